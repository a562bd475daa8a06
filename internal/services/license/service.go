package license

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/playready"
	"cdmkit/internal/services/session"
)

const (
	// maxResponseSize bounds how much of a license server answer is read.
	maxResponseSize = 16 << 20
	// maxIndividualization bounds side-channel round trips per fetch.
	maxIndividualization = 2
)

// StatusError is a non-2xx answer from a license server that carried no
// recognisable fault.
type StatusError struct {
	URL    string
	Status string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("POST %s: %s", e.URL, e.Status)
}

// Service fetches keys by running a full exchange against a license server.
type Service struct {
	http *http.Client
	log  logrus.FieldLogger
}

var _ domain.LicenseService = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the client used for license server calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.http = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// New constructs a Service.
func New(opts ...Option) *Service {
	s := &Service{http: http.DefaultClient, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "license")
	return s
}

// Fetch acquires keys for p.InitData from p.URL.
//
// Flow:
//  1. Open a session on cdm and generate the first request.
//  2. While the session asks for individualization, POST that request
//     and feed the answer back; the session re-issues its license request.
//  3. POST the license request and feed the answer to Update.
//  4. Return the keys and close the session.
func (s *Service) Fetch(ctx context.Context, cdm domain.Cdm, p domain.FetchParams) ([]domain.Key, error) {
	if p.URL == "" {
		return nil, errors.New("license: no server URL")
	}
	sessionType := p.SessionType
	if sessionType == "" {
		sessionType = domain.SessionTemporary
	}
	sessions := session.New(cdm, session.WithLogger(s.log))
	sess, err := sessions.Create(ctx, sessionType)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close(ctx) }()
	log := s.log.WithField("session", sess.ID())

	msg, err := sess.GenerateRequest(ctx, p.InitDataType, p.InitData)
	if err != nil {
		return nil, err
	}

	for i := 0; msg.Type == domain.MessageIndividualizationRequest; i++ {
		if i == maxIndividualization {
			return nil, errors.Wrap(domain.ErrInvalidSession, "license: individualization did not complete")
		}
		log.Debug("sending individualization request")
		resp, err := s.post(ctx, cdm.KeySystem(), p, msg.Data)
		if err != nil {
			return nil, err
		}
		res, err := sess.Update(ctx, resp)
		if err != nil {
			return nil, err
		}
		if res.Message == nil {
			return nil, errors.Wrap(domain.ErrInvalidSession, "license: no request after individualization")
		}
		msg = *res.Message
	}

	resp, err := s.post(ctx, cdm.KeySystem(), p, msg.Data)
	if err != nil {
		return nil, err
	}
	if _, err := sess.Update(ctx, resp); err != nil {
		return nil, err
	}
	keys := sess.Keys()
	if len(keys) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidLicense, "license carried no keys")
	}
	log.WithField("keys", len(keys)).Info("keys recovered")
	return keys, nil
}

func defaultContentType(ks domain.KeySystem) string {
	if ks == domain.KeySystemPlayReady {
		return "text/xml; charset=utf-8"
	}
	return "application/octet-stream"
}

// post sends body to p.URL with p.Headers merged over the default content
// type and returns the response body.
func (s *Service) post(ctx context.Context, ks domain.KeySystem, p domain.FetchParams, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", defaultContentType(ks))
	for k, vs := range p.Headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "POST %s", p.URL)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", p.URL)
	}
	s.log.WithFields(logrus.Fields{"status": resp.StatusCode, "bytes": len(data)}).Debug("license server answered")

	if resp.StatusCode/100 != 2 {
		if ks == domain.KeySystemPlayReady {
			if fault, ok := playready.ParseFault(data); ok {
				return nil, fault
			}
		}
		snippet := data
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &StatusError{URL: p.URL, Status: resp.Status, Code: resp.StatusCode, Body: string(snippet)}
	}
	return data, nil
}

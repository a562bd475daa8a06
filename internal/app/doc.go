// Package app wires application dependencies for the CLI and the server.
//
// It opens device files (choosing the Widevine or PlayReady engine by
// magic), dials a remote CDM when configured, and builds the stores and
// services commands use, exposed through Wire. ServerConfig and NewServer
// do the same for the remote CDM server.
package app

// Command cdmserver exposes the devices listed in cdmkit.server.json as a
// remote CDM over HTTP. Callers authenticate with the x-secret-key header;
// each secret maps to a user and the devices that user may open.
//
// Example config:
//
//	{
//	  "host": "0.0.0.0",
//	  "port": 8786,
//	  "devices": ["/srv/devices/chrome_l3.wvd", "/srv/devices/sl2000.prd"],
//	  "users": {
//	    "s3cret": {"name": "alice", "devices": ["chrome_l3"]}
//	  },
//	  "privacyMode": true,
//	  "serviceRootKey": "/srv/devices/widevine_root.pem",
//	  "redis": "127.0.0.1:6379",
//	  "stateTTL": "24h",
//	  "sessionIdle": "30m"
//	}
//
// Device names are the file names without extension. Paused sessions go
// to Redis when configured, otherwise to <home>/sessions.
package main

// Package commands defines the cdmkit CLI.
//
// Commands
//
//   - license      Fetch keys from a license server with a local device
//   - remote       Fetch keys through a remote CDM server
//   - challenge    Generate a license request and park the session
//   - update       Feed a server response to a parked session
//   - info         Describe a .wvd or .prd device
//   - pssh         Decode Widevine or PlayReady init data
//   - provision    Issue a fresh leaf certificate for a PlayReady device
//   - keys [list]  Print keys saved with license --save
//
// Keys are printed one per line as kid:key in hex.
package commands

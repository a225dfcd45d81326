// Package commands defines the peertrust CLI.
//
// Commands
//
//   - init         Configure the account address and create the key
//   - fingerprint  Print the own key fingerprint
//   - qr           Show a verification invitation
//   - check-qr     Classify a scanned code
//   - join         Run the joiner side of a verification handshake
//   - peer         Show what is known about a peer address
//   - receive      Fetch mail from the IMAP server
//   - demo         Verify two in-memory accounts against each other
//
// Every command except demo opens the account named by --config on first
// use; the root command closes it after the command returns.
package commands

// Command warden is the administrative client for warden daemons. Each
// verb targets one daemon through exactly one of --json, --name, or
// --port, speaks the control protocol, and prints a terminal success
// line; failures surface as a NOT OK line and a non-zero exit code.
package main

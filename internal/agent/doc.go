// Package agent contains the agency's core (non-UI) logic.
//
// It builds agents from configuration, resolves their instructions and
// model/provider configuration, and runs the stream/tool loop shared by the
// terminal session and the programmatic GetResponse API.
package agent

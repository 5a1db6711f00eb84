// Package ws implements the terminal control protocol and its WebSocket
// framing.
//
// Every frame is a single JSON object without embedded newlines.
//
// Message Types (Client → Server):
//   - input:  {"type":"input","data":"..."}  raw keystrokes for the shell
//   - resize: {"type":"resize","cols":N,"rows":N}
//   - ping:   {"type":"ping"}
//
// Message Types (Server → Client):
//   - output: {"type":"output","data":"..."} a chunk of shell output
//   - cwd:    {"type":"cwd","path":"~/sub"}   the shell's working directory
//   - exit:   {"type":"exit","code":N}        the shell terminated
//   - pong:   {"type":"pong"}
//
// A client frame that does not parse as one of the client messages is not an
// error: the session writes the frame's bytes to the shell unchanged.
package ws

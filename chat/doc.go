/*
Package chat is a transport-agnostic implementation of the relay's session
engine.

This package should not know anything about sockets. A Session is handed a
Conn that reads and writes discrete lines, and everything else (command
parsing, renames, whispers, broadcasts, teardown) happens here against a
shared Registry of live sessions.
*/
package chat

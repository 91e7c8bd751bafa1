/*
Package relay is a chat relay which serves one shared room to clients that
connect over plain TCP or SSH and exchange lines of text.

transport subdirectory contains the socket-related pieces which know nothing
about chat.

chat subdirectory contains the chat-related pieces which know nothing about
sockets.

The Host type is the glue between the transport and chat pieces.
*/
package relay

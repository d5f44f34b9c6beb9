/*
Package agent provides a client and server for driving a compile-and-run
session on a remote host, streaming the event stream back over a WebSocket
so only an HTTP server is required.

A session is scoped to the WebSocket connection: each connection gets its
own supervisor slot, and if the connection dies for any reason the session's
child process is killed.

There are two messages in this protocol: "request" messages are sent
client->server, and "response" messages are sent server->client. The schema
for these messages is described in types.go.

The protocol proceeds as follows:

1. The client opens a WebSocket connection with the server.
2. The server's first response message announces the session ID.
3. The client sends request messages carrying a compile request, a run
request, stdin bytes, or a terminate flag, in any order. Compiles are
answered with a response message carrying the compile result; everything a
run produces arrives as event responses.
4. When the client is done it initiates closing of the WebSocket connection.

The server does not buffer events beyond a small window, so a client that
stops reading eventually stalls its session's child process.
*/
package agent

// Package server exposes the reaction service over HTTP and WebSocket.
package server

// Package era5gclient is a client library for 5G-ERA network applications.
//
// A session talks to a remote network application over a single multiplexed
// websocket connection carrying data, control, and results channels. Sessions
// can target an application directly or go through the 5G-ERA orchestration
// middleware, which deploys the application and reports its address once it
// becomes reachable.
//
// The main entry point is the client package. Supporting packages: transport
// implements the multiplexed channel, middleware the orchestration REST
// surface and readiness polling, encoder the frame serialization, and config
// the YAML configuration. A reference binary lives in cmd/era5g-client.
package era5gclient

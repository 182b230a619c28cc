// Package integration runs the gateway and a device receiver against a real
// MQTT broker.
//
// Prerequisites:
//   - MQTT broker (Mosquitto 2.x, shared subscriptions enabled) on localhost:1883
//   - Set MQTT_BROKER and MQTT_PORT env vars to override defaults
//
// Run with: go test -v -tags=integration -timeout=60s ./integration/...
package integration

package domain

// State is the lifecycle state of the relay session.
type State string

const (
	StateIdle           State = "idle"
	StateEngineReady    State = "engine_ready"
	StateIngestReady    State = "ingest_ready"
	StateProducing      State = "producing"
	StateStreamStarting State = "stream_starting"
	StateStreaming      State = "streaming"
	StateStopping       State = "stopping"
)

var States = []State{
	StateIdle,
	StateEngineReady,
	StateIngestReady,
	StateProducing,
	StateStreamStarting,
	StateStreaming,
	StateStopping,
}

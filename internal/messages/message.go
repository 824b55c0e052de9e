package messages

// A Batch is a chunk of staged bytes published downstream. Dropped counts the bytes that were
// overwritten before they could be published since the previous batch, so a consumer can tell
// where the stream has gaps.
type Batch struct {
	StagerID string `json:"stager_id"`
	Seq      uint64 `json:"seq"`
	Dropped  uint64 `json:"dropped"`
	Data     []byte `json:"data"`
}

// A Reading is a synthetic telemetry sample emitted by the load producer.
type Reading struct {
	SensorID string  `json:"sensor_id"`
	Kind     string  `json:"kind"`
	Value    float64 `json:"value"`
	UnixNano int64   `json:"unix_nano"`
}

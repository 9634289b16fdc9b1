package core

import "math"

// ThermalNoiseDBmPerHz is kTB at room temperature, per hertz.
const ThermalNoiseDBmPerHz = -174.0

// TransceiverModel describes the RF characteristics shared by every
// wireless node.
type TransceiverModel struct {
	ID string `json:"id"`

	FrequencyMHz    float64 `json:"frequency_mhz"`
	ChannelWidthMHz float64 `json:"channel_width_mhz"`

	TxPowerDBm    float64 `json:"tx_power_dbm"`
	GainTxDBi     float64 `json:"gain_tx_dbi,omitempty"`
	GainRxDBi     float64 `json:"gain_rx_dbi,omitempty"`
	NoiseFigureDB float64 `json:"noise_figure_db"`

	// RetryLimit is the number of MAC transmission attempts per hop.
	RetryLimit int `json:"retry_limit"`
	// QueueLimit is the number of packets a node buffers while the
	// medium is busy before tail-dropping.
	QueueLimit int `json:"queue_limit"`
}

// DefaultWiFiTransceiver is a 2.4 GHz channel 1 radio at 40 mW.
func DefaultWiFiTransceiver() TransceiverModel {
	return TransceiverModel{
		ID:              "wifi-ch1",
		FrequencyMHz:    2412,
		ChannelWidthMHz: 20,
		TxPowerDBm:      16.0206,
		NoiseFigureDB:   7,
		RetryLimit:      7,
		QueueLimit:      100,
	}
}

// NoiseFloorDBm is the thermal noise over the channel plus the receiver
// noise figure.
func (tm TransceiverModel) NoiseFloorDBm() float64 {
	return ThermalNoiseDBmPerHz + 10*math.Log10(tm.ChannelWidthMHz*1e6) + tm.NoiseFigureDB
}

// IsCompatible returns true if both radios share a channel.
func (tm TransceiverModel) IsCompatible(other TransceiverModel) bool {
	lo := math.Max(tm.FrequencyMHz-tm.ChannelWidthMHz/2, other.FrequencyMHz-other.ChannelWidthMHz/2)
	hi := math.Min(tm.FrequencyMHz+tm.ChannelWidthMHz/2, other.FrequencyMHz+other.ChannelWidthMHz/2)
	return lo < hi
}

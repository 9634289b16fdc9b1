package model

import "fmt"

// MCS describes one HT modulation and coding scheme.
type MCS struct {
	Index int
	Mode  string
	// DataRateMbps is the PHY rate at 20 MHz, long guard interval.
	DataRateMbps float64
	// MinSINRdB is the SINR at which half the packets are received.
	MinSINRdB float64
}

// MCSTable lists the single spatial stream HT rates supported by the radio.
var MCSTable = []MCS{
	{Index: 0, Mode: "HtMcs0", DataRateMbps: 6.5, MinSINRdB: 2},
	{Index: 1, Mode: "HtMcs1", DataRateMbps: 13, MinSINRdB: 5},
	{Index: 2, Mode: "HtMcs2", DataRateMbps: 19.5, MinSINRdB: 9},
	{Index: 3, Mode: "HtMcs3", DataRateMbps: 26, MinSINRdB: 11},
	{Index: 4, Mode: "HtMcs4", DataRateMbps: 39, MinSINRdB: 15},
	{Index: 5, Mode: "HtMcs5", DataRateMbps: 52, MinSINRdB: 18},
	{Index: 6, Mode: "HtMcs6", DataRateMbps: 58.5, MinSINRdB: 20},
	{Index: 7, Mode: "HtMcs7", DataRateMbps: 65, MinSINRdB: 25},
}

// LookupMCS returns the table entry for index.
func LookupMCS(index int) (MCS, error) {
	if index < 0 || index >= len(MCSTable) {
		return MCS{}, fmt.Errorf("mcs index %d outside [0,%d]", index, len(MCSTable)-1)
	}
	return MCSTable[index], nil
}

package protocol

// Delivery selects the GATT write mode for one frame.
type Delivery int

const (
	// DeliveryAuto lets the transport pick: chunk frames go out without
	// response for throughput, everything else with response.
	DeliveryAuto Delivery = iota
	// DeliveryAcknowledged forces a write with response.
	DeliveryAcknowledged
	// DeliveryUnacknowledged forces a write without response.
	DeliveryUnacknowledged
)

func (d Delivery) String() string {
	switch d {
	case DeliveryAcknowledged:
		return "with-response"
	case DeliveryUnacknowledged:
		return "without-response"
	}
	return "auto"
}

// Opposite returns the alternate mode used when a first write fails.
func (d Delivery) Opposite() Delivery {
	if d == DeliveryUnacknowledged {
		return DeliveryAcknowledged
	}
	return DeliveryUnacknowledged
}

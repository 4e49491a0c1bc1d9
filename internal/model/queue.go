package model

// TriggerPayload is the inbound ingestion request. Both filters are optional;
// absence of both means every area globally.
type TriggerPayload struct {
	Country    string `json:"country,omitempty"`
	ResortName string `json:"resort_name,omitempty"`
}

// CountryOnly reports whether the trigger filters by country without naming a resort.
func (t TriggerPayload) CountryOnly() bool {
	return t.Country != "" && t.ResortName == ""
}

// QueueMessage is one batch of elements on the durable work queue.
type QueueMessage struct {
	BatchID  string         `json:"batch_id"`
	Elements []RawElement   `json:"elements"`
	Filter   TriggerPayload `json:"filter"`
}

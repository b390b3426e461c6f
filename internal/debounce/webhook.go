package debounce

import "encoding/json"

// inboundPayload mirrors the WhatsApp Cloud API webhook envelope: Meta
// batches multiple entries/changes/messages into a single POST body, which
// is why the Queue Consumer hands the Debounce layer a raw batch rather than
// a single message (§4.1's "raw event body, opaque to the gateway").
type inboundPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Type string `json:"type"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// inboundMessage is one lead-originated text message extracted from a batch.
type inboundMessage struct {
	PhoneNumberID     string
	LeadPhone         string
	ProviderMessageID string
	Text              string
}

// parseInbound extracts every text message from a raw webhook body. Non-text
// message types (images, status/delivery receipts with no Messages array)
// are silently skipped — they carry no text for the pipeline to act on.
func parseInbound(raw []byte) ([]inboundMessage, error) {
	var payload inboundPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	var out []inboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			phoneNumberID := change.Value.Metadata.PhoneNumberID
			for _, m := range change.Value.Messages {
				if m.Type != "" && m.Type != "text" {
					continue
				}
				if m.Text.Body == "" {
					continue
				}
				out = append(out, inboundMessage{
					PhoneNumberID:     phoneNumberID,
					LeadPhone:         m.From,
					ProviderMessageID: m.ID,
					Text:              m.Text.Body,
				})
			}
		}
	}
	return out, nil
}

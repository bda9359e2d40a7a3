package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"leadsync_backend/internal/attribution"
)

// Adapter turns a provider webhook body into normalized messages. A body that carries no
// inbound message (status callbacks, other event types) yields an empty slice.
type Adapter interface {
	Parse(body []byte) ([]InboundMessage, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(body []byte) ([]InboundMessage, error)

func (f AdapterFunc) Parse(body []byte) ([]InboundMessage, error) { return f(body) }

// DefaultAdapters returns the built-in provider adapters keyed by route name.
func DefaultAdapters() map[string]Adapter {
	return map[string]Adapter{
		ProviderCloudAPI:  AdapterFunc(parseCloudAPI),
		ProviderEvolution: AdapterFunc(parseEvolution),
		ProviderGeneric:   AdapterFunc(parseGeneric),
	}
}

// ---- Meta WhatsApp Cloud API ----

type cloudAPIPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []cloudAPIMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudAPIMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Referral *struct {
		SourceURL  string `json:"source_url"`
		SourceID   string `json:"source_id"`
		SourceType string `json:"source_type"`
		ImageURL   string `json:"image_url"`
		VideoURL   string `json:"video_url"`
	} `json:"referral"`
}

func parseCloudAPI(body []byte) ([]InboundMessage, error) {
	var payload cloudAPIPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode cloud api payload: %w", err)
	}

	var out []InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				msg := InboundMessage{
					Provider:       ProviderCloudAPI,
					EventID:        m.ID,
					ContactID:      m.From,
					Text:           m.Text.Body,
					BusinessLineID: change.Value.Metadata.PhoneNumberID,
				}
				if r := m.Referral; r != nil {
					media := r.ImageURL
					if media == "" {
						media = r.VideoURL
					}
					msg.Ad = &attribution.AdMetadata{
						SourceID:   r.SourceID,
						SourceURL:  r.SourceURL,
						SourceType: r.SourceType,
						MediaURL:   media,
					}
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// ---- Evolution API (Baileys) ----

const (
	evolutionMessagesUpsert = "messages.upsert"
	groupJIDSuffix          = "@g.us"
)

type evolutionPayload struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type evolutionMessage struct {
	Key struct {
		RemoteJID      string `json:"remoteJid"`
		RemoteJIDAlt   string `json:"remoteJidAlt"`
		FromMe         bool   `json:"fromMe"`
		ID             string `json:"id"`
		Participant    string `json:"participant"`
		ParticipantAlt string `json:"participantAlt"`
	} `json:"key"`
	Message struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text        string                `json:"text"`
			ContextInfo *evolutionContextInfo `json:"contextInfo"`
		} `json:"extendedTextMessage"`
		ImageMessage *struct {
			Caption     string                `json:"caption"`
			ContextInfo *evolutionContextInfo `json:"contextInfo"`
		} `json:"imageMessage"`
		VideoMessage *struct {
			Caption     string                `json:"caption"`
			ContextInfo *evolutionContextInfo `json:"contextInfo"`
		} `json:"videoMessage"`
	} `json:"message"`
	ContextInfo *evolutionContextInfo `json:"contextInfo"`
}

type evolutionContextInfo struct {
	ExternalAdReply *struct {
		SourceID     string `json:"sourceId"`
		SourceURL    string `json:"sourceUrl"`
		SourceType   string `json:"sourceType"`
		MediaURL     string `json:"mediaUrl"`
		ThumbnailURL string `json:"thumbnailUrl"`
	} `json:"externalAdReply"`
}

func parseEvolution(body []byte) ([]InboundMessage, error) {
	var payload evolutionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode evolution payload: %w", err)
	}
	if !strings.EqualFold(strings.ReplaceAll(payload.Event, "_", "."), evolutionMessagesUpsert) {
		return nil, nil
	}

	var items []evolutionMessage
	if err := decodeOneOrMany(payload.Data, &items); err != nil {
		return nil, fmt.Errorf("decode evolution data: %w", err)
	}

	out := make([]InboundMessage, 0, len(items))
	for _, item := range items {
		msg := InboundMessage{
			Provider:       ProviderEvolution,
			EventID:        item.Key.ID,
			ContactID:      item.Key.RemoteJID,
			AltContactID:   item.Key.RemoteJIDAlt,
			FromMe:         item.Key.FromMe,
			BusinessLineID: payload.Instance,
		}
		if strings.HasSuffix(item.Key.RemoteJID, groupJIDSuffix) {
			msg.IsGroup = true
			msg.ContactID = item.Key.Participant
			msg.AltContactID = item.Key.ParticipantAlt
		}

		var ctxInfo *evolutionContextInfo
		switch m := item.Message; {
		case m.Conversation != "":
			msg.Text = m.Conversation
		case m.ExtendedTextMessage != nil:
			msg.Text = m.ExtendedTextMessage.Text
			ctxInfo = m.ExtendedTextMessage.ContextInfo
		case m.ImageMessage != nil:
			msg.Text = m.ImageMessage.Caption
			ctxInfo = m.ImageMessage.ContextInfo
		case m.VideoMessage != nil:
			msg.Text = m.VideoMessage.Caption
			ctxInfo = m.VideoMessage.ContextInfo
		}
		if ctxInfo == nil {
			ctxInfo = item.ContextInfo
		}
		if ctxInfo != nil && ctxInfo.ExternalAdReply != nil {
			ad := ctxInfo.ExternalAdReply
			media := ad.MediaURL
			if media == "" {
				media = ad.ThumbnailURL
			}
			msg.Ad = &attribution.AdMetadata{
				SourceID:   ad.SourceID,
				SourceURL:  ad.SourceURL,
				SourceType: ad.SourceType,
				MediaURL:   media,
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// ---- Generic (already normalized) ----

func parseGeneric(body []byte) ([]InboundMessage, error) {
	var items []InboundMessage
	if err := decodeOneOrMany(body, &items); err != nil {
		return nil, fmt.Errorf("decode generic payload: %w", err)
	}
	for i := range items {
		items[i].Provider = ProviderGeneric
	}
	return items, nil
}

// decodeOneOrMany decodes either a JSON array or a single object into out.
func decodeOneOrMany[T any](raw []byte, out *[]T) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return err
	}
	*out = append(*out, one)
	return nil
}

package ingest

import (
	"fmt"

	"github.com/chatbridge/session-server-go/internal/engine"
	"github.com/chatbridge/session-server-go/internal/model"
)

// Classified is the result of payload classification: one variant out of the
// closed content-type set, with the text content and media descriptor pulled
// out of the matching shape.
type Classified struct {
	Type    model.ContentType
	Content string
	Media   *engine.MediaPayload
}

// Classify maps a raw payload onto the closed content-type set by probing
// the mutually exclusive payload shapes first-match. A non-empty payload
// matching no known shape classifies as unrecognized rather than being
// dropped; a fully empty payload returns false.
func Classify(p *engine.Payload) (Classified, bool) {
	if p.IsEmpty() {
		return Classified{}, false
	}

	switch {
	case p.Text != nil:
		return Classified{Type: model.ContentTypeText, Content: p.Text.Body}, true
	case p.Image != nil:
		return Classified{Type: model.ContentTypeImage, Content: p.Image.Caption, Media: p.Image}, true
	case p.Video != nil:
		return Classified{Type: model.ContentTypeVideo, Content: p.Video.Caption, Media: p.Video}, true
	case p.Document != nil:
		return Classified{Type: model.ContentTypeDocument, Content: p.Document.Caption, Media: p.Document}, true
	case p.Audio != nil:
		return Classified{Type: model.ContentTypeAudio, Content: p.Audio.Caption, Media: p.Audio}, true
	case p.Sticker != nil:
		return Classified{Type: model.ContentTypeSticker, Content: "", Media: p.Sticker}, true
	case p.Location != nil:
		return Classified{Type: model.ContentTypeLocation, Content: formatLocation(p.Location)}, true
	case p.LiveLocation != nil:
		return Classified{Type: model.ContentTypeLiveLocation, Content: formatLocation(p.LiveLocation)}, true
	case p.Contact != nil:
		return Classified{Type: model.ContentTypeContact, Content: p.Contact.DisplayName}, true
	case p.ContactList != nil:
		return Classified{Type: model.ContentTypeContactList, Content: p.ContactList.DisplayName}, true
	case p.Reaction != nil:
		return Classified{Type: model.ContentTypeReaction, Content: p.Reaction.Emoji}, true
	case p.Protocol != nil:
		return Classified{Type: model.ContentTypeProtocol}, true
	case p.Call != nil:
		content := "call"
		if p.Call.Missed {
			content = "missed call"
		}
		return Classified{Type: model.ContentTypeCall, Content: content}, true
	default:
		return Classified{Type: model.ContentTypeUnrecognized}, true
	}
}

func formatLocation(loc *engine.LocationPayload) string {
	if loc.Name != "" {
		return fmt.Sprintf("%s (%f, %f)", loc.Name, loc.Latitude, loc.Longitude)
	}
	return fmt.Sprintf("%f, %f", loc.Latitude, loc.Longitude)
}

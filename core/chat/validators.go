package chat

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-chat/core"
)

var (
	requiredTag = "required"

	classRefForbiddenTag  = "classref_forbidden"
	classRefForbiddenText = "only class rooms are linked to a class"

	noAttachmentTag  = "no_attachment"
	noAttachmentText = "text messages cannot carry a file"
)

// InitValidators registers the chat validators & translations on validate.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(roomStructValidation, NewRoom{})
	validate.RegisterStructValidation(messageStructValidation, NewMessage{})

	core.RegisterCustomTranslation(validate, translator, classRefForbiddenTag, classRefForbiddenText)
	core.RegisterCustomTranslation(validate, translator, noAttachmentTag, noAttachmentText)
}

// roomStructValidation checks the fields each room type depends on.
func roomStructValidation(sl validator.StructLevel) {
	nr, ok := sl.Current().Interface().(NewRoom)
	if !ok {
		return
	}
	switch nr.Type {
	case RoomPrivate:
		if nr.Peer() == "" {
			sl.ReportError(nr.UserID, "user_id", "UserID", requiredTag, "")
		}
	case RoomGroup, RoomClass:
		if nr.Name == "" {
			sl.ReportError(nr.Name, "name", "Name", requiredTag, "")
		}
	}
	if nr.Type == RoomClass && nr.ClassRef == "" {
		sl.ReportError(nr.ClassRef, "class_ref", "ClassRef", requiredTag, "")
	}
	if nr.Type != RoomClass && nr.ClassRef != "" {
		sl.ReportError(nr.ClassRef, "class_ref", "ClassRef", classRefForbiddenTag, "")
	}
}

// messageStructValidation checks that text messages have content and that attachments come with a file.
func messageStructValidation(sl validator.StructLevel) {
	nm, ok := sl.Current().Interface().(NewMessage)
	if !ok {
		return
	}
	if nm.ContentType.HasAttachment() {
		if nm.AttachmentRef == "" {
			sl.ReportError(nm.AttachmentRef, "file_url", "AttachmentRef", requiredTag, "")
		}
		if nm.Body == "" {
			sl.ReportError(nm.Body, "content", "Body", requiredTag, "")
		}
		return
	}
	if strings.TrimSpace(nm.Body) == "" {
		sl.ReportError(nm.Body, "content", "Body", requiredTag, "")
	}
	if nm.AttachmentRef != "" {
		sl.ReportError(nm.AttachmentRef, "file_url", "AttachmentRef", noAttachmentTag, "")
	}
}

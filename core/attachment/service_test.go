package attachment_test

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/attachment"
	"github.com/trezcool/masomo-chat/core/chat"
	"github.com/trezcool/masomo-chat/storage/objectstore"
)

var (
	pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	pdfData = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
)

func newService() *attachment.Service {
	return attachment.NewService(objectstore.NewMemoryStore(), core.AttachmentsConfig{
		MaxSize: 64,
		BaseURL: "http://files.test/",
	})
}

func TestService_Upload(t *testing.T) {
	svc := newService()

	tests := []struct {
		name            string
		filename        string
		data            []byte
		wantErr         error
		wantName        string
		wantContentType string
		wantMsgType     chat.ContentType
		wantExt         string
	}{
		{name: "empty", filename: "a.txt", wantErr: attachment.ErrEmpty},
		{name: "too large", filename: "a.txt", data: []byte(strings.Repeat("a", 65)), wantErr: attachment.ErrTooLarge},
		{name: "image", filename: "cat.png", data: pngData, wantName: "cat.png", wantContentType: "image/png", wantMsgType: chat.ContentImage, wantExt: ".png"},
		{name: "lying extension", filename: "cat.exe", data: pngData, wantName: "cat.exe", wantContentType: "image/png", wantMsgType: chat.ContentImage, wantExt: ".png"},
		{name: "pdf", filename: "homework.pdf", data: pdfData, wantName: "homework.pdf", wantContentType: "application/pdf", wantMsgType: chat.ContentFile, wantExt: ".pdf"},
		{name: "text", filename: "notes.txt", data: []byte("hello there"), wantName: "notes.txt", wantContentType: "text/plain; charset=utf-8", wantMsgType: chat.ContentFile, wantExt: ".txt"},
		{name: "path stripped", filename: "../../etc/passwd", data: []byte("root"), wantName: "passwd", wantContentType: "text/plain; charset=utf-8", wantMsgType: chat.ContentFile, wantExt: ".txt"},
		{name: "windows path stripped", filename: `C:\Users\me\cat.png`, data: pngData, wantName: "cat.png", wantContentType: "image/png", wantMsgType: chat.ContentImage, wantExt: ".png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att, err := svc.Upload(context.Background(), tt.filename, tt.data)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, att.Name)
			assert.Equal(t, tt.wantContentType, att.ContentType)
			assert.Equal(t, tt.wantMsgType, att.MessageType)
			assert.EqualValues(t, len(tt.data), att.Size)
			assert.True(t, strings.HasSuffix(att.Key, tt.wantExt), att.Key)
			assert.Equal(t, "http://files.test/v1/uploads/"+att.Key, att.URL)

			obj, err := svc.Download(context.Background(), att.Key)
			require.NoError(t, err)
			assert.Equal(t, tt.data, obj.Data)
			assert.Equal(t, att.ContentType, obj.ContentType)
			assert.Equal(t, att.Name, obj.Name)
		})
	}
}

func TestService_Upload_uniqueKeys(t *testing.T) {
	svc := newService()
	keys := make(map[string]bool)
	for i := 0; i < 20; i++ {
		att, err := svc.Upload(context.Background(), "", pngData)
		require.NoError(t, err)
		assert.Equal(t, att.Key, att.Name)
		keys[att.Key] = true
	}
	assert.Len(t, keys, 20)
}

func TestService_Download(t *testing.T) {
	svc := newService()
	for _, key := range []string{"", "lol.png", "../lol.png", `a\b`} {
		t.Run(key, func(t *testing.T) {
			_, err := svc.Download(context.Background(), key)
			assert.Equal(t, attachment.ErrNotFound, errors.Cause(err))
		})
	}
}

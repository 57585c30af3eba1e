package handler_test

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/auth"
	"github.com/sakif/vidshare/internal/handler"
	"github.com/sakif/vidshare/internal/service"
)

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for k, data := range files {
		fw, err := mw.CreateFormFile(k, k+".bin")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, withUser bool, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, fields, files)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	if withUser {
		req = req.WithContext(auth.WithUser(req.Context(), alice))
	}
	return req
}

func TestUploadHandler_Success(t *testing.T) {
	up := &MockUploader{}
	h := handler.NewUploadHandler(up, 1<<20, testLogger())

	req := uploadRequest(t, true,
		map[string]string{"title": "Test", "channelName": "AliceTV"},
		map[string][]byte{"video": []byte("video-bytes"), "logo": []byte("logo-bytes")},
	)
	rr := httptest.NewRecorder()
	h.HandleUpload(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "vid1", body["videoId"])
	assert.Equal(t, "Test", body["video"].(map[string]any)["title"])

	assert.Equal(t, "u1", up.Req.OwnerID)
	assert.Equal(t, "AliceTV", up.Req.ChannelName)
	assert.Equal(t, "video.bin", up.Req.Video.Name)
	assert.Equal(t, []byte("video-bytes"), up.VideoRaw)
	assert.Equal(t, []byte("logo-bytes"), up.LogoRaw)

	assert.True(t, up.Req.SlotHeld, "handler passes its reserved slot on")
	assert.Equal(t, 1, up.Reserved)
	assert.Equal(t, 1, up.Released)
}

// countingReader records how much of a request body was consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func TestUploadHandler_BusyRejectsBeforeReadingBody(t *testing.T) {
	svc := service.NewUploadService(nil, nil, nil, 1, testLogger())
	release, err := svc.Reserve()
	require.NoError(t, err, "take the only slot")

	body, contentType := multipartBody(t,
		map[string]string{"title": "Test", "channelName": "AliceTV"},
		map[string][]byte{"video": bytes.Repeat([]byte("x"), 4<<20)},
	)
	counted := &countingReader{r: body}
	req := httptest.NewRequest(http.MethodPost, "/upload", counted)
	req.Header.Set("Content-Type", contentType)
	req = req.WithContext(auth.WithUser(req.Context(), alice))

	rr := httptest.NewRecorder()
	handler.NewUploadHandler(svc, 64<<20, testLogger()).HandleUpload(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "too_many_requests", decodeBody(t, rr)["error"])
	assert.Zero(t, counted.n, "body must not be read when no slot is free")

	release()
	again, err := svc.Reserve()
	require.NoError(t, err, "slot is free again after release")
	again()
}

func TestUploadHandler_MissingFilePassesNil(t *testing.T) {
	up := &MockUploader{Err: apperror.ValidationFailed("logo", "logo file is required")}
	h := handler.NewUploadHandler(up, 1<<20, testLogger())

	req := uploadRequest(t, true,
		map[string]string{"title": "Test", "channelName": "AliceTV"},
		map[string][]byte{"video": []byte("video-bytes")},
	)
	rr := httptest.NewRecorder()
	h.HandleUpload(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, up.Req.Logo)
	assert.Equal(t, "logo", decodeBody(t, rr)["field"])
}

func TestUploadHandler_Rejections(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		up := &MockUploader{}
		rr := httptest.NewRecorder()
		handler.NewUploadHandler(up, 1<<20, testLogger()).HandleUpload(rr,
			uploadRequest(t, false, map[string]string{"title": "Test"}, nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, up.Req.OwnerID, "service not called")
	})

	t.Run("too large", func(t *testing.T) {
		up := &MockUploader{}
		rr := httptest.NewRecorder()
		handler.NewUploadHandler(up, 512, testLogger()).HandleUpload(rr,
			uploadRequest(t, true, map[string]string{"title": "Test"},
				map[string][]byte{"video": bytes.Repeat([]byte("x"), 4096)}))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
		assert.Equal(t, "payload_too_large", decodeBody(t, rr)["error"])
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"title":"Test"}`))
		req.Header.Set("Content-Type", "application/json")
		req = req.WithContext(auth.WithUser(req.Context(), alice))
		rr := httptest.NewRecorder()
		handler.NewUploadHandler(&MockUploader{}, 1<<20, testLogger()).HandleUpload(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("busy", func(t *testing.T) {
		up := &MockUploader{Busy: true}
		rr := httptest.NewRecorder()
		handler.NewUploadHandler(up, 1<<20, testLogger()).HandleUpload(rr,
			uploadRequest(t, true, map[string]string{"title": "Test"}, nil))

		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Empty(t, up.Req.OwnerID, "service not called")
	})

	t.Run("slot released on parse failure", func(t *testing.T) {
		up := &MockUploader{}
		rr := httptest.NewRecorder()
		handler.NewUploadHandler(up, 512, testLogger()).HandleUpload(rr,
			uploadRequest(t, true, map[string]string{"title": "Test"},
				map[string][]byte{"video": bytes.Repeat([]byte("x"), 4096)}))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
		assert.Equal(t, up.Reserved, up.Released)
	})
}

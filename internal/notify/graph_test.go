package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

const testGUID = "12345678-1234-1234-1234-123456789abc"

// fakeGraph serves the token endpoint and records sendMail bodies.
type fakeGraph struct {
	mu     sync.Mutex
	sent   []sendMailRequest
	status int
	posts  int
}

func (g *fakeGraph) start(t *testing.T) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{tenant}/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testGUID, r.PathValue("tenant"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("POST /users/{from}/sendMail", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "noise@example.com", r.PathValue("from"))
		var req sendMailRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		g.mu.Lock()
		g.posts++
		status := g.status
		if status == 0 || status == http.StatusAccepted {
			g.sent = append(g.sent, req)
		}
		g.mu.Unlock()
		if status == 0 {
			status = http.StatusAccepted
		}
		w.WriteHeader(status)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	base, token := graphBaseURL, graphTokenURL
	graphBaseURL, graphTokenURL = srv.URL, srv.URL+"/%s/token"
	t.Cleanup(func() { graphBaseURL, graphTokenURL = base, token })
}

func (g *fakeGraph) messages() []sendMailRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sendMailRequest(nil), g.sent...)
}

func testGraphConfig() *types.GraphConfig {
	return &types.GraphConfig{
		TenantID:     testGUID,
		ClientID:     testGUID,
		ClientSecret: "secret",
		FromAddress:  "noise@example.com",
		Recipients:   "ops@example.com",
	}
}

func TestGraphSendWithAttachment(t *testing.T) {
	g := &fakeGraph{}
	g.start(t)

	client, err := NewGraphClient(testGraphConfig())
	require.NoError(t, err)
	wav := []byte("RIFF\x00\x01\x02WAVE")
	err = client.Send(context.Background(), &Mail{
		To:          []string{"ops@example.com", ""},
		Subject:     "s",
		Body:        "b",
		Attachments: []Attachment{{Name: "alert.wav", ContentType: "audio/wav", Content: wav}},
	})
	require.NoError(t, err)

	sent := g.messages()
	require.Len(t, sent, 1)
	msg := sent[0].Message
	require.Len(t, msg.ToRecipients, 1)
	assert.Equal(t, "ops@example.com", msg.ToRecipients[0].EmailAddress.Address)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "#microsoft.graph.fileAttachment", msg.Attachments[0].ODataType)
	assert.Equal(t, "alert.wav", msg.Attachments[0].Name)
	assert.Equal(t, wav, msg.Attachments[0].ContentBytes)
}

func TestGraphAttachmentWireFormat(t *testing.T) {
	m := &Mail{
		To:          []string{"ops@example.com"},
		Attachments: []Attachment{{Name: "a.wav", ContentType: "audio/wav", Content: []byte("hi")}},
	}
	req, err := m.toGraph()
	require.NoError(t, err)
	body, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"@odata.type":"#microsoft.graph.fileAttachment"`)
	assert.Contains(t, string(body), `"contentBytes":"aGk="`)

	m.Attachments[0].Content = make([]byte, MaxAttachmentBytes+1)
	_, err = m.toGraph()
	assert.Error(t, err)

	_, err = (&Mail{To: []string{"not-an-address"}}).toGraph()
	assert.Error(t, err)
	_, err = (&Mail{}).toGraph()
	assert.EqualError(t, err, "no recipients specified")
}

func TestGraphRejectionIsNotRetried(t *testing.T) {
	g := &fakeGraph{status: http.StatusBadRequest}
	g.start(t)

	client, err := NewGraphClient(testGraphConfig())
	require.NoError(t, err)
	err = client.Send(context.Background(), &Mail{To: []string{"ops@example.com"}, Subject: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(400)")
	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, 1, g.posts)
}

func newEmailNotifier(t *testing.T) *AlertNotifier {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	gc := testGraphConfig()
	body, err := json.Marshal(map[string]any{
		"system":        map[string]any{"api_key": "k"},
		"web":           map[string]any{"station_name": "Studio 1"},
		"notifications": map[string]any{"email": gc},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o600))
	cfg := config.New(path)
	require.NoError(t, cfg.Load())
	snap := cfg.Snapshot()
	require.True(t, snap.HasGraph())
	return NewAlertNotifier(cfg)
}

func TestAlertNotifierAttachesClip(t *testing.T) {
	g := &fakeGraph{}
	g.start(t)
	n := newEmailNotifier(t)

	a := sampleAlert()
	a.ClipPending = true
	n.HandleAlert(a)
	n.Wait()
	assert.Empty(t, g.messages(), "email waits for the clip")

	clipPath := filepath.Join(t.TempDir(), "2025-06-01_12-00-00.wav")
	require.NoError(t, os.WriteFile(clipPath, []byte("RIFFdata"), 0o600))
	n.HandleClip(a.ID, clipPath)
	n.HandleClip(a.ID, clipPath)
	require.NoError(t, n.Close())

	sent := g.messages()
	require.Len(t, sent, 1)
	msg := sent[0].Message
	assert.True(t, strings.HasPrefix(msg.Subject, "[ALERT]"))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "2025-06-01_12-00-00.wav", msg.Attachments[0].Name)
	assert.Equal(t, []byte("RIFFdata"), msg.Attachments[0].ContentBytes)
}

func TestAlertNotifierFlushesHeldEmailOnClose(t *testing.T) {
	g := &fakeGraph{}
	g.start(t)
	n := newEmailNotifier(t)

	a := sampleAlert()
	a.ClipPending = true
	n.HandleAlert(a)
	require.NoError(t, n.Close())

	sent := g.messages()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].Message.Attachments)
}

func TestAlertNotifierSendsImmediatelyWithoutClip(t *testing.T) {
	g := &fakeGraph{}
	g.start(t)
	n := newEmailNotifier(t)

	n.HandleAlert(sampleAlert())
	n.Wait()
	assert.Len(t, g.messages(), 1)
	n.HandleClip("a1b2", "")
	require.NoError(t, n.Close())
	assert.Len(t, g.messages(), 1)
}

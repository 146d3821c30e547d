package ws

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecollab/backend/internal/model"
)

// stubFileStore records file mutations and can be forced to fail.
type stubFileStore struct {
	mu      sync.Mutex
	calls   []string
	failErr error
}

func (s *stubFileStore) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.failErr
}

func (s *stubFileStore) CreateFile(_ context.Context, projectID int64, name, path, fileType string, parentID int64) (*model.File, error) {
	if err := s.record(fmt.Sprintf("create %d %s", projectID, name)); err != nil {
		return nil, err
	}
	return &model.File{ID: 42, ProjectID: projectID, Name: name, Path: path}, nil
}

func (s *stubFileStore) UpdateFile(_ context.Context, fileID int64, content string) error {
	return s.record(fmt.Sprintf("update %d", fileID))
}

func (s *stubFileStore) DeleteFile(_ context.Context, fileID int64) error {
	return s.record(fmt.Sprintf("delete %d", fileID))
}

func (s *stubFileStore) RenameFile(_ context.Context, fileID int64, name string) error {
	return s.record(fmt.Sprintf("rename %d %s", fileID, name))
}

func (s *stubFileStore) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// stubExecutor records executor calls on a channel so asynchronous
// dispatches can be awaited.
type stubExecutor struct {
	calls chan string
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{calls: make(chan string, 16)}
}

func (s *stubExecutor) Execute(connID string, code, filePath string, files map[string]string) {
	s.calls <- fmt.Sprintf("execute %s %s files=%d", connID, code, len(files))
}

func (s *stubExecutor) SendInput(connID, input string) {
	s.calls <- fmt.Sprintf("input %s %s", connID, input)
}

func (s *stubExecutor) Stop(connID string) {
	s.calls <- "stop " + connID
}

func (s *stubExecutor) Release(connID string) {
	s.calls <- "release " + connID
}

func (s *stubExecutor) await(t *testing.T) string {
	t.Helper()
	select {
	case call := <-s.calls:
		return call
	case <-time.After(time.Second):
		t.Fatal("executor was never called")
		return ""
	}
}

type routerFixture struct {
	registry *Registry
	hub      *Hub
	files    *stubFileStore
	executor *stubExecutor
	router   *Router
}

func newRouterFixture() *routerFixture {
	registry := NewRegistry()
	hub := NewHub(registry)
	files := &stubFileStore{}
	executor := newStubExecutor()
	router := NewRouter(registry, hub, files, executor)
	router.kickDelay = time.Millisecond
	return &routerFixture{registry: registry, hub: hub, files: files, executor: executor, router: router}
}

func (f *routerFixture) join(projectID string) *Conn {
	conn := NewConn(nil, projectID)
	f.registry.Admit(conn)
	return conn
}

func TestHandleAuthWithUserID(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("7")
	peer := f.join("7")

	f.router.Handle(conn, []byte(`{"type":"AUTH","userId":5,"username":"ann","email":"ann@example.com"}`))

	frames := drainFrames(t, conn)
	require.Equal(t, []string{"AUTH_SUCCESS", "USER_JOINED", "ONLINE_USERS"}, frameTypes(frames))

	user, ok := frames[0]["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(5), user["id"])
	assert.Equal(t, "ann", user["username"])
	assert.Equal(t, conn.ID(), user["connectionId"])

	assert.Equal(t, float64(1), frames[2]["count"])

	peerFrames := drainFrames(t, peer)
	assert.Equal(t, []string{"USER_JOINED", "ONLINE_USERS"}, frameTypes(peerFrames))
}

func TestHandleAuthWithoutUserIDStaysAnonymous(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("7")

	f.router.Handle(conn, []byte(`{"type":"AUTH","username":"drive-by"}`))

	frames := drainFrames(t, conn)
	require.Equal(t, []string{"AUTH_SUCCESS", "ONLINE_USERS"}, frameTypes(frames))
	assert.Equal(t, float64(0), frames[1]["count"])
	assert.Empty(t, f.registry.OnlineUsers("7"))
}

func TestHandleUnknownType(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("7")

	f.router.Handle(conn, []byte(`{"type":"TELEPORT"}`))

	frames := drainFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, "ERROR", frames[0]["type"])
	assert.Contains(t, frames[0]["message"], "Unknown message type")
}

func TestHandleMalformedJSON(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("7")

	f.router.Handle(conn, []byte(`{"type":`))

	frames := drainFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, "ERROR", frames[0]["type"])
}

func TestHandleFileSave(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("7")
	peer := f.join("7")

	f.router.Handle(conn, []byte(`{"type":"FILE_SAVE","fileId":3,"content":"x = 1"}`))

	assert.Equal(t, []string{"update 3"}, f.files.recorded())

	frames := drainFrames(t, conn)
	require.Equal(t, []string{"FILE_SAVED", "FILE_SAVED"}, frameTypes(frames))
	assert.Equal(t, float64(3), frames[0]["fileId"])
	assert.Equal(t, "x = 1", frames[0]["content"])
	assert.Equal(t, conn.ID(), frames[0]["userId"])
	assert.Equal(t, "File saved successfully", frames[1]["message"])

	peerFrames := drainFrames(t, peer)
	require.Equal(t, []string{"FILE_SAVED"}, frameTypes(peerFrames), "peers get the broadcast, not the confirmation")
}

func TestHandleFileSaveFailure(t *testing.T) {
	f := newRouterFixture()
	f.files.failErr = model.ErrFileNotFound
	conn := f.join("7")
	peer := f.join("7")

	f.router.Handle(conn, []byte(`{"type":"FILE_SAVE","fileId":99,"content":""}`))

	frames := drainFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, "ERROR", frames[0]["type"])
	assert.Empty(t, drainFrames(t, peer), "failed saves are not broadcast")
}

func TestHandleFileCreate(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("7")

	f.router.Handle(conn, []byte(`{"type":"FILE_CREATE","fileName":"main.go","path":"/main.go","fileType":"FILE"}`))

	assert.Equal(t, []string{"create 7 main.go"}, f.files.recorded())

	frames := drainFrames(t, conn)
	require.Equal(t, []string{"FILE_CREATED"}, frameTypes(frames))
	file, ok := frames[0]["file"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), file["id"])
}

func TestHandleFileCreateNonNumericProject(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("not-a-number")

	f.router.Handle(conn, []byte(`{"type":"FILE_CREATE","fileName":"main.go"}`))

	frames := drainFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, "ERROR", frames[0]["type"])
	assert.Empty(t, f.files.recorded())
}

func TestHandleFileRename(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("7")

	f.router.Handle(conn, []byte(`{"type":"FILE_RENAME","fileId":3,"newFileName":"app.go"}`))

	assert.Equal(t, []string{"rename 3 app.go"}, f.files.recorded())
	frames := drainFrames(t, conn)
	require.Equal(t, []string{"FILE_RENAMED", "FILE_RENAMED"}, frameTypes(frames))
	assert.Equal(t, "app.go", frames[0]["name"])
}

func TestHandleExecuteCodeDispatchesOffLoop(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("7")

	f.router.Handle(conn, []byte(`{"type":"EXECUTE_CODE","code":"print(1)"}`))

	call := f.executor.await(t)
	assert.Equal(t, fmt.Sprintf("execute %s print(1) files=0", conn.ID()), call)
	assert.Empty(t, drainFrames(t, conn), "dispatch itself produces no reply")
}

func TestHandleExecuteCodeRejectsEmptyRequest(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("7")

	f.router.Handle(conn, []byte(`{"type":"EXECUTE_CODE"}`))

	frames := drainFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, "ERROR", frames[0]["type"])
}

func TestHandleSendInputAndStop(t *testing.T) {
	f := newRouterFixture()
	conn := f.join("7")

	f.router.Handle(conn, []byte(`{"type":"SEND_INPUT","input":"42"}`))
	assert.Equal(t, fmt.Sprintf("input %s 42", conn.ID()), f.executor.await(t))

	f.router.Handle(conn, []byte(`{"type":"STOP_EXECUTION"}`))
	assert.Equal(t, "stop "+conn.ID(), f.executor.await(t))
}

func TestHandleKickUser(t *testing.T) {
	f := newRouterFixture()
	kicker := f.join("7")
	target := f.join("7")
	bystander := f.join("7")
	f.registry.Authenticate(kicker.ID(), 1, "ann", "")
	f.registry.Authenticate(target.ID(), 2, "ben", "")

	f.router.Handle(kicker, []byte(`{"type":"KICK_USER","userId":2}`))

	targetFrames := drainFrames(t, target)
	require.NotEmpty(t, targetFrames)
	assert.Equal(t, "USER_KICKED", targetFrames[0]["type"])
	assert.Equal(t, "ann", targetFrames[0]["kickedBy"])
	assert.True(t, target.IsClosed(), "target transport closed after the notice")

	kickerFrames := drainFrames(t, kicker)
	require.Equal(t, []string{"USER_KICKED_BROADCAST"}, frameTypes(kickerFrames))
	assert.Equal(t, float64(2), kickerFrames[0]["userId"])
	assert.Equal(t, float64(1), kickerFrames[0]["kickedBy"])
	assert.Equal(t, "ann", kickerFrames[0]["kickedByUsername"])

	bystanderFrames := drainFrames(t, bystander)
	require.Equal(t, []string{"USER_KICKED_BROADCAST"}, frameTypes(bystanderFrames))
}

func TestHandleKickUserNotConnected(t *testing.T) {
	f := newRouterFixture()
	kicker := f.join("7")
	f.registry.Authenticate(kicker.ID(), 1, "ann", "")

	f.router.Handle(kicker, []byte(`{"type":"KICK_USER","userId":99}`))

	frames := drainFrames(t, kicker)
	require.Len(t, frames, 1)
	assert.Equal(t, "ERROR", frames[0]["type"])
	assert.Contains(t, frames[0]["message"], "not found")
}

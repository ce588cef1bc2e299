package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jinford/docsync/internal/core/queue"
)

// wsUpdate はWebSocketで配信する1件の更新メッセージ
type wsUpdate struct {
	Type  string      `json:"type"`
	Job   *queue.Job  `json:"job,omitempty"`
	Stats queue.Stats `json:"stats"`
}

// WSManager はWebSocket接続を管理し、ジョブの状態遷移を配信する
//
// queue.Notifierとしてキューに登録され、遷移ごとにジョブのスナップショットと
// 最新の統計情報を全クライアントへブロードキャストする
type WSManager struct {
	stats    func() queue.Stats
	upgrader websocket.Upgrader

	// 書き込みはミューテックスで直列化する（gorilla/websocketは並行書き込み不可）
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewWSManager は新しいWSManagerを作成する
func NewWSManager(stats func() queue.Stats) *WSManager {
	return &WSManager{
		stats: stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Handle はHTTPリクエストをWebSocketへアップグレードしてクライアントを登録する
func (m *WSManager) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	m.mu.Lock()
	m.clients[conn] = true
	total := len(m.clients)
	// 接続直後に現在の統計情報を送る
	if err := conn.WriteJSON(wsUpdate{Type: "stats", Stats: m.stats()}); err != nil {
		slog.Warn("failed to send initial websocket message", "error", err)
	}
	m.mu.Unlock()

	slog.Info("websocket client connected", "clients", total)

	// 切断検知のための読み取りループ
	go func() {
		defer m.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// JobUpdated はジョブの状態遷移を全クライアントへ配信する
func (m *WSManager) JobUpdated(job queue.Job) {
	update := wsUpdate{Type: "job", Job: &job, Stats: m.stats()}

	m.mu.Lock()
	defer m.mu.Unlock()

	var dead []*websocket.Conn
	for conn := range m.clients {
		if err := conn.WriteJSON(update); err != nil {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		conn.Close()
		delete(m.clients, conn)
	}
}

// ClientCount は接続中のクライアント数を返す
func (m *WSManager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

func (m *WSManager) remove(conn *websocket.Conn) {
	m.mu.Lock()
	delete(m.clients, conn)
	total := len(m.clients)
	m.mu.Unlock()

	conn.Close()
	slog.Info("websocket client disconnected", "clients", total)
}

// インターフェース実装の確認
var _ queue.Notifier = (*WSManager)(nil)

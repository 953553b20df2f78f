package relay

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatter-io/chatter/internal/util"
	"github.com/chatter-io/chatter/internal/wallet"
)

// Options configures the relay server.
type Options struct {
	// JWTSecret enables auth: /ws requires a token issued by the login
	// endpoint. Empty disables auth entirely.
	JWTSecret      string
	AllowedOrigins []string // empty allows any origin
}

// Server exposes the relay contract over HTTP: the /ws signaling endpoint
// and the wallet login exchange.
type Server struct {
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
}

// NewServer builds a relay server.
func NewServer(opts Options) *Server {
	s := &Server{hub: NewHub(), opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// Router builds the gin routing table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/api/auth/login", s.login)
	r.GET("/ws", s.handleWS)

	return r
}

// Run serves the relay on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *Server) originAllowed(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// handleWS upgrades the connection and runs the client pumps. The peer id
// is assigned here and returned to the client in its room-joined ack.
func (s *Server) handleWS(c *gin.Context) {
	if s.opts.JWTSecret != "" && !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "valid token required"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogError("upgrade: %v", err)
		return
	}

	cl := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	util.LogDebug("peer %s connected", cl.id)

	go cl.writePump()
	cl.readPump(s.hub)
}

// authorized checks the bearer token (header or token query param, since
// browser WebSocket clients cannot set headers).
func (s *Server) authorized(c *gin.Context) bool {
	tokenString := c.Query("token")
	if tokenString == "" {
		header := c.GetHeader("Authorization")
		parts := strings.Split(header, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}
	if tokenString == "" {
		return false
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(s.opts.JWTSecret), nil
	})
	return err == nil && token.Valid
}

type loginRequest struct {
	Address   string `json:"address" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// login exchanges a wallet-signed message for a relay token. The relay only
// checks the message shape; signature recovery belongs to the identity
// provider fronting a production deployment.
func (s *Server) login(c *gin.Context) {
	if s.opts.JWTSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auth is disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !strings.Contains(req.Message, req.Address) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "message does not match wallet"})
		return
	}

	claims := jwt.RegisteredClaims{
		Subject:   req.Address,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.opts.JWTSecret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, wallet.Credentials{Token: signed, Address: req.Address})
}

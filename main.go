package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bavit-uk/mailcore/internal/auth"
	"github.com/bavit-uk/mailcore/internal/config"
	"github.com/bavit-uk/mailcore/internal/events"
	"github.com/bavit-uk/mailcore/internal/provider"
	"github.com/bavit-uk/mailcore/internal/providers/gmail"
	"github.com/bavit-uk/mailcore/internal/providers/inbound"
	"github.com/bavit-uk/mailcore/internal/providers/outlook"
	"github.com/bavit-uk/mailcore/internal/storage/sqlite"
	"github.com/bavit-uk/mailcore/internal/sync"
	"github.com/bavit-uk/mailcore/internal/syncstate"
	"github.com/bavit-uk/mailcore/internal/threadcache"
	"github.com/bavit-uk/mailcore/internal/threadid"
	"github.com/bavit-uk/mailcore/internal/unified"
)

func main() {
	cfg, err := config.Load(os.Getenv("MAILCORE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(cfg.Data.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	cache := threadcache.New(cfg.Sync.ThreadCacheLen)
	cursors := syncstate.New(store, log)
	resolver := threadid.New(store, cache, log)
	buffer := inbound.NewBuffer(cfg.Sync.InboundBuffer)
	tokens := auth.NewTokenClient(cfg.Auth.TokenServiceURL)

	if !cfg.NATS.Disabled {
		publisher, err := events.NewPublisher(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		defer publisher.Close()
		if err := publisher.EnsureStream(ctx); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		go sync.NewDispatcher(store, publisher, log).Run(ctx)
	}

	factory := func(ctx context.Context, accountID string, prov unified.Provider, userJWT string) (provider.Client, error) {
		switch prov {
		case unified.ProviderGmail:
			tok, err := tokens.GetToken(ctx, userJWT, auth.OAuthGoogle)
			if err != nil {
				return nil, fmt.Errorf("get token: %w", err)
			}
			// The client outlives this request; don't tie its
			// transport to the request context
			return gmail.New(context.Background(), tok)
		case unified.ProviderOutlook:
			tok, err := tokens.GetToken(ctx, userJWT, auth.OAuthMicrosoft)
			if err != nil {
				return nil, fmt.Errorf("get token: %w", err)
			}
			return outlook.New(tok, accountID)
		case unified.ProviderInbound:
			return buffer, nil
		default:
			return nil, fmt.Errorf("unsupported provider %q", prov)
		}
	}

	manager := sync.NewManager(store, cursors, resolver, cache, factory, log)
	manager.PageSize = cfg.Sync.PageSize
	manager.MaxPages = cfg.Sync.MaxPages
	defer manager.StopAll()

	var verifier *auth.JWTVerifier
	if cfg.Auth.JWKSURL != "" {
		verifier, err = auth.NewJWTVerifier(cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return fmt.Errorf("create JWT verifier: %w", err)
		}
		defer verifier.Close()
	}

	router := newRouter(cfg, log, store, manager, buffer, cursors, cache, verifier)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(cfg *config.Config, log *zap.Logger, store *sqlite.Store, manager *sync.Manager, buffer *inbound.Buffer, cursors *syncstate.Store, cache *threadcache.Cache, verifier *auth.JWTVerifier) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Webhook ingestion feeds the inbound buffer; payloads are drained
	// by sync passes on the INBOUND provider.
	router.POST("/webhooks/inbound/:account", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil || len(body) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
			return
		}
		if !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body is not valid JSON"})
			return
		}
		seq := buffer.Enqueue(c.Param("account"), body)
		c.JSON(http.StatusAccepted, gin.H{"seq": seq})
	})

	authorized := router.Group("/")
	authorized.Use(authMiddleware(verifier))

	authorized.POST("/sync/:account/:category", func(c *gin.Context) {
		prov := unified.Provider(strings.ToUpper(c.Query("provider")))
		switch prov {
		case unified.ProviderGmail, unified.ProviderOutlook, unified.ProviderInbound:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "provider must be GMAIL, OUTLOOK or INBOUND"})
			return
		}

		mode := sync.ModeIncremental
		switch c.DefaultQuery("mode", "incremental") {
		case "incremental":
		case "full":
			mode = sync.ModeFull
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be full or incremental"})
			return
		}

		req := sync.StartRequest{
			AccountID: c.Param("account"),
			Category:  unified.Category(strings.ToUpper(c.Param("category"))),
			Provider:  prov,
			Mode:      mode,
			UserJWT:   bearerToken(c.Request),
		}
		if err := manager.StartSync(c.Request.Context(), req); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "started"})
	})

	authorized.DELETE("/sync/:account/:category", func(c *gin.Context) {
		category := unified.Category(strings.ToUpper(c.Param("category")))
		if err := manager.StopSync(c.Param("account"), category); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	})

	authorized.GET("/sync", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"running": manager.RunningSyncs()})
	})

	authorized.GET("/sync/:account/:category/cursor", func(c *gin.Context) {
		key := syncstate.Key{
			AccountID: c.Param("account"),
			Category:  unified.Category(strings.ToUpper(c.Param("category"))),
		}
		cursor, err := cursors.Get(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"key":          key.String(),
			"cursorToken":  cursor.CursorToken,
			"lastSyncedAt": cursor.LastSyncedAt,
			"conflicts":    cursor.ConflictsResolvedTotal,
			"history":      cursor.History,
		})
	})

	authorized.GET("/threads/:id", func(c *gin.Context) {
		threadID := c.Param("id")
		thread, ok := cache.Thread(threadID)
		if !ok {
			var err error
			thread, err = store.FindThread(c.Request.Context(), threadID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if thread != nil {
				cache.PutThread(thread)
			}
		}
		if thread == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		members, err := store.FindThreadMembers(c.Request.Context(), threadID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"thread": thread, "emails": members})
	})

	return router
}

// authMiddleware validates the bearer token when a verifier is
// configured; with no JWKS configured requests pass through.
func authMiddleware(verifier *auth.JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}
		user, err := verifier.UserFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}

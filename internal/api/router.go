package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"bus-telemetry/internal/notify"
)

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type announceReq struct {
	VehicleID string `json:"vehicleId"`
	Message   string `json:"message"`
}

// NewRouter wires the HTTP surface. Everything under /api requires a
// bearer token from /login.
func NewRouter(s *Server, auth *JWTService, sink notify.Sink, adminUser, adminPass string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Authorization", "Content-Type"},
	}))

	router.POST("/login", func(c *gin.Context) {
		var r loginReq
		if err := c.BindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if r.Username != adminUser || r.Password != adminPass {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		tok, err := auth.GenerateToken(r.Username, 24*time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": tok})
	})

	api := router.Group("/api")
	api.Use(JWTMiddleware(auth))
	{
		api.GET("/fleet", s.FleetHandler())
		api.GET("/vehicle/:id", s.VehicleHandler())
		api.GET("/vehicle/:id/near", s.NearHandler())
		api.GET("/vehicle/:id/trips", s.TripsHandler())
		api.POST("/vehicle/:id/abort", s.AbortHandler())

		api.POST("/announce", func(c *gin.Context) {
			var r announceReq
			if err := c.BindJSON(&r); err != nil || r.Message == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "vehicleId and message required"})
				return
			}
			if sink != nil {
				err := sink.Notify(notify.Event{
					Type:      notify.EventAnnouncement,
					VehicleID: r.VehicleID,
					Message:   r.Message,
					Timestamp: time.Now(),
				})
				if err != nil {
					c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
					return
				}
			}
			c.JSON(http.StatusOK, gin.H{"sent": true})
		})
	}

	return router
}

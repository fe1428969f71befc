package server

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// Router builds the HTTP handler with every route of the backend.
func (s *ServerContext) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	if len(s.Config.Server.CORSOrigins) > 0 {
		r.Use(CORS(s.Config.Server.CORSOrigins))
	}

	r.GET("/", s.HandleIndex)
	r.GET("/login", s.HandleLoginPage)
	r.POST("/login", s.HandleLogin)
	r.GET("/logout", s.HandleLogout)
	r.GET("/tiles/:z/:x/:y", s.HandleTile)

	pub := r.Group("/api")
	pub.GET("/health", s.HandleHealth)
	pub.GET("/auth/check", s.HandleAuthCheck)

	apiGroup := r.Group("/api", s.RequireAuth())
	{
		apiGroup.GET("/ws", s.HandleWatch)

		apiGroup.GET("/features", s.HandleListFeatures)
		apiGroup.POST("/features", s.HandleSaveFeature)
		apiGroup.DELETE("/features/:id", s.HandleDeleteFeature)

		apiGroup.GET("/glebas", s.HandleListGlebas)
		apiGroup.POST("/glebas", s.HandleCreateGleba)
		apiGroup.GET("/glebas/:id", s.HandleGetGleba)
		apiGroup.PUT("/glebas/:id", s.HandleUpdateGleba)
		apiGroup.DELETE("/glebas/:id", s.HandleDeleteGleba)
		apiGroup.POST("/glebas/:id/calculate", s.HandleCalculateGleba)

		v2 := apiGroup.Group("/v2/projects/:project")
		v2.GET("/layer-groups", s.HandleLayerGroups)
		v2.POST("/layer-groups", s.HandleCreateLayerGroup)
		v2.GET("/layers", s.HandleLayers)
		v2.POST("/layers", s.HandleCreateLayer)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recurso não encontrado"})
	})

	return r
}

// CORS allows credentialed requests from the listed origins. A "*" entry
// echoes any origin.
func CORS(origins []string) gin.HandlerFunc {
	wildcard := slices.Contains(origins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || slices.Contains(origins, origin)) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, X-Requested-With")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	apihttp "mailmind/adapter/in/http"
)

// NewAPI builds the fiber app serving the ops API over already-wired
// dependencies.
func NewAPI(deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "mailmind",
		DisableStartupMessage: !deps.Config.IsDevelopment(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
	})

	app.Use(recover.New())

	apihttp.NewHandler(deps.Processor, deps.Cache, deps.LLM).Register(app)
	return app
}

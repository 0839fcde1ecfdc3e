package api

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the protected REST surface. Role checks happen
// inside the handlers; the middleware only establishes identity.
func RegisterRoutes(app *fiber.App, h *Handler, wh *DestinationHandler, authMW fiber.Handler) {
	api := app.Group("/api", authMW)

	clients := api.Group("/clients")
	clients.Get("/", h.ListClients)
	clients.Post("/", h.CreateClient)
	clients.Get("/:id", h.GetClient)
	clients.Put("/:id", h.UpdateClient)
	clients.Delete("/:id", h.DeleteClient)

	proposals := api.Group("/proposals")
	proposals.Get("/", h.ListProposals)
	proposals.Post("/", h.CreateProposal)
	proposals.Get("/:id", h.GetProposal)
	proposals.Put("/:id", h.UpdateProposal)
	proposals.Patch("/:id/pipeline", h.MovePipeline)
	proposals.Delete("/:id", h.DeleteProposal)

	banks := api.Group("/banks")
	banks.Get("/", h.ListBanks)
	banks.Post("/", h.CreateBank)
	banks.Put("/:id", h.UpdateBank)
	banks.Delete("/:id", h.DeleteBank)

	users := api.Group("/users")
	users.Get("/", h.ListUsers)
	users.Post("/", h.CreateUser)
	users.Put("/:id", h.UpdateUser)
	users.Delete("/:id", h.DeleteUser)

	webhooks := api.Group("/webhooks")
	webhooks.Get("/destinations", wh.ListDestinations)
	webhooks.Post("/destinations", wh.CreateDestination)
	webhooks.Get("/destinations/:id", wh.GetDestination)
	webhooks.Put("/destinations/:id", wh.UpdateDestination)
	webhooks.Delete("/destinations/:id", wh.DeleteDestination)
	webhooks.Post("/destinations/:id/test", wh.TestDestination)
	webhooks.Get("/deliveries", wh.ListDeliveries)
}

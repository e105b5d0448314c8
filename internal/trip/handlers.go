package trip

import "github.com/gofiber/fiber/v2"

// RegisterRoutes serves the embedded presets, share links and config
// validation. Trip documents themselves live in the document store.
func RegisterRoutes(r fiber.Router, shareOrigin string) {
	r.Get("/presets", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"presets": PresetIDs()})
	})

	r.Get("/presets/:id", func(c *fiber.Ctx) error {
		cfg, ok := Preset(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "preset not found")
		}
		return c.JSON(cfg)
	})

	r.Get("/trips/:id/link", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := ValidateTripID(id); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(fiber.Map{"tripId": id, "link": ShareLink(shareOrigin, id)})
	})

	r.Post("/configs/validate", func(c *fiber.Ctx) error {
		cfg, err := ParseConfig(c.Body())
		if err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
		return c.JSON(Patch(cfg))
	})
}

package handlers

import (
	"regexp"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mfreeman/visatrack/internal/model"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type subscribeRequest struct {
	Email      string   `json:"email"`
	Categories []string `json:"categories"`
}

// SubscribeHandler handles POST /api/subscribe: create or update a
// subscription from a JSON body of email plus category codes.
func SubscribeHandler(subs SubscriptionWriter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req subscribeRequest
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Request body must be JSON.")
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))
		if email == "" {
			return errorJSON(c, fiber.StatusBadRequest, "Email is required.")
		}
		if !emailRe.MatchString(email) {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid email address.")
		}

		if len(req.Categories) == 0 {
			return errorJSON(c, fiber.StatusBadRequest, "Select at least one visa category.")
		}

		var invalid []string
		seen := make(map[string]bool)
		var categories []string
		for _, cat := range req.Categories {
			if !model.ValidCategories[cat] {
				invalid = append(invalid, cat)
				continue
			}
			if !seen[cat] {
				seen[cat] = true
				categories = append(categories, cat)
			}
		}
		if len(invalid) > 0 {
			sort.Strings(invalid)
			return errorJSON(c, fiber.StatusBadRequest,
				"Unknown category/categories: "+strings.Join(invalid, ", "))
		}
		sort.Strings(categories)

		result, err := subs.Upsert(c.Context(), email, categories, clientIP(c), c.Get(fiber.HeaderUserAgent))
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, "Database error: "+err.Error())
		}

		resp := fiber.Map{
			"status":     result.Status,
			"email":      result.Subscription.Email,
			"categories": result.Subscription.Categories,
		}
		if result.PreviousCategories != nil {
			resp["previous_categories"] = result.PreviousCategories
		}
		return c.JSON(resp)
	}
}

// UnsubscribeHandler handles GET /api/unsubscribe?token=<uuid>. A valid
// token deactivates the subscription and renders a confirmation page.
func UnsubscribeHandler(subs SubscriptionWriter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			return errorJSON(c, fiber.StatusBadRequest, "Missing unsubscribe token.")
		}

		sub, err := subs.DeactivateByToken(c.Context(), token)
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, "Database error: "+err.Error())
		}
		if sub == nil {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid or already-used unsubscribe link.")
		}

		return c.Render("unsubscribe", fiber.Map{"Email": sub.Email})
	}
}

// clientIP honours X-Forwarded-For so subscriptions behind a reverse
// proxy record the real client address.
func clientIP(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return c.IP()
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
	})
}

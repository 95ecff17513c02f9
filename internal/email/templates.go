package email

import (
	"fmt"
	"strings"
	"time"
)

// OrderItem represents an item in an order for email purposes
type OrderItem struct {
	ItemID   string
	Name     string
	Quantity int
	Price    int
}

// BuildPickupCodeBody builds the HTML body for the pickup code email
func BuildPickupCodeBody(code string, expiresAt time.Time, total int, items []OrderItem) string {
	var itemsHTML strings.Builder
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ItemID
		}
		itemsHTML.WriteString(fmt.Sprintf(
			`<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">%d</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
			</tr>`,
			name,
			item.Quantity,
			formatAmount(item.Price),
			formatAmount(item.Price*item.Quantity),
		))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">Thank you for your order</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">Show this code at each counter to collect your items.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0; text-align: center;">
			<p style="margin: 0; font-size: 14px; color: #666;">Pickup code</p>
			<p style="margin: 5px 0 0 0; font-size: 32px; font-weight: bold; font-family: monospace; letter-spacing: 4px;">%s</p>
			<p style="margin: 10px 0 0 0; font-size: 13px; color: #999;">Valid until %s</p>
		</div>

		<h2 style="font-size: 18px; border-bottom: 2px solid #667eea; padding-bottom: 10px;">Your items</h2>

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left; font-weight: 600;">Item</th>
					<th style="padding: 12px; text-align: center; font-weight: 600;">Qty</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Unit</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Subtotal</th>
				</tr>
			</thead>
			<tbody>
				%s
			</tbody>
		</table>

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; color: #667eea; margin-left: 10px;">%s</span>
		</div>

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message. The code is valid once and cannot be reissued.
		</p>
	</div>
</body>
</html>`,
		code,
		expiresAt.Format("Mon, 2 Jan 2006 15:04"),
		itemsHTML.String(),
		formatAmount(total),
	)
}

// BuildOrderCompleteBody builds the HTML body for the pickup confirmation
func BuildOrderCompleteBody(code string, usedAt time.Time) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-radius: 10px;">
		<h1 style="font-size: 20px; margin-top: 0;">Enjoy your meal!</h1>
		<p>All items of order <strong style="font-family: monospace;">%s</strong> were handed over at %s.</p>
		<p style="font-size: 12px; color: #999; margin-bottom: 0;">This is an automated message.</p>
	</div>
</body>
</html>`,
		code,
		usedAt.Format("15:04"),
	)
}

// formatAmount renders a price in the smallest currency unit as a decimal
func formatAmount(amount int) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

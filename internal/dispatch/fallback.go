package dispatch

import (
	"fmt"

	"github.com/coverly/courier/internal/db"
	"github.com/coverly/courier/internal/render"
)

// FallbackFunc produces last-resort content for a notification type when
// no template is cataloged. Returning nil means this type has no
// fallback for the given context.
type FallbackFunc func(channel string, rc render.RenderContext) *render.Rendered

// FallbackRegistry maps notification type codes to hardcoded content
// generators. Types without an entry simply have no fallback, which
// surfaces as a skipped send.
type FallbackRegistry struct {
	generators map[string]FallbackFunc
}

// NewFallbackRegistry creates a registry preloaded with the standard
// generators.
func NewFallbackRegistry() *FallbackRegistry {
	r := &FallbackRegistry{generators: make(map[string]FallbackFunc)}
	r.Register("policy_expiry_7d", policyExpiryFallback)
	r.Register("payment_reminder", paymentReminderFallback)
	r.Register("claim_status_update", claimStatusFallback)
	return r
}

// Register installs or replaces the generator for a type code.
func (r *FallbackRegistry) Register(typeCode string, fn FallbackFunc) {
	r.generators[typeCode] = fn
}

// Generate runs the fallback generator for a type, or returns nil when
// none is registered or the generator has nothing to say for this
// context.
func (r *FallbackRegistry) Generate(typeCode, channel string, rc render.RenderContext) *render.Rendered {
	fn, ok := r.generators[typeCode]
	if !ok {
		return nil
	}
	return fn(channel, rc)
}

func policyExpiryFallback(channel string, rc render.RenderContext) *render.Rendered {
	if rc.Snapshot == nil || rc.Snapshot.Policy == nil {
		return nil
	}
	p := rc.Snapshot.Policy
	name := customerName(rc)

	body := fmt.Sprintf("Dear %s, your policy %s expires on %s. Please renew to stay covered.",
		name, p.PolicyNo, p.EndDate.Format("02 Jan 2006"))
	out := &render.Rendered{
		Body:      body,
		Variables: map[string]string{"policy.policy_no": p.PolicyNo},
	}
	if channel == db.ChannelEmail {
		out.Subject = fmt.Sprintf("Policy %s expiring soon", p.PolicyNo)
	}
	if channel == db.ChannelPush {
		out.Title = "Policy expiring soon"
	}
	return out
}

func paymentReminderFallback(channel string, rc render.RenderContext) *render.Rendered {
	if rc.Snapshot == nil || rc.Snapshot.Policy == nil {
		return nil
	}
	p := rc.Snapshot.Policy
	currency := ""
	if rc.Snapshot.Branding != nil {
		currency = rc.Snapshot.Branding.Currency
	}

	body := fmt.Sprintf("Dear %s, a premium payment of %s is due on policy %s.",
		customerName(rc), render.FormatAmount(p.Premium, currency), p.PolicyNo)
	out := &render.Rendered{
		Body:      body,
		Variables: map[string]string{"policy.policy_no": p.PolicyNo},
	}
	if channel == db.ChannelEmail {
		out.Subject = fmt.Sprintf("Payment due on policy %s", p.PolicyNo)
	}
	if channel == db.ChannelPush {
		out.Title = "Payment due"
	}
	return out
}

func claimStatusFallback(channel string, rc render.RenderContext) *render.Rendered {
	if rc.Snapshot == nil || rc.Snapshot.Claim == nil {
		return nil
	}
	c := rc.Snapshot.Claim

	body := fmt.Sprintf("Dear %s, your claim %s is now %s.",
		customerName(rc), c.ClaimNo, c.Status)
	out := &render.Rendered{
		Body:      body,
		Variables: map[string]string{"claim.claim_no": c.ClaimNo, "claim.status": c.Status},
	}
	if channel == db.ChannelEmail {
		out.Subject = fmt.Sprintf("Update on claim %s", c.ClaimNo)
	}
	if channel == db.ChannelPush {
		out.Title = "Claim update"
	}
	return out
}

func customerName(rc render.RenderContext) string {
	if rc.Snapshot != nil && rc.Snapshot.Customer != nil && rc.Snapshot.Customer.Name != "" {
		return rc.Snapshot.Customer.Name
	}
	return "customer"
}

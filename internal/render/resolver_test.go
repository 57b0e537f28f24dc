package render

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/coverly/courier/internal/db"
)

// fakeCatalog is an in-memory catalog for resolver tests.
type fakeCatalog struct {
	types     map[string]*db.NotificationType
	templates map[string]*db.Template // key: typeCode + "/" + channel
}

func (f *fakeCatalog) GetNotificationType(_ context.Context, code string) (*db.NotificationType, error) {
	return f.types[code], nil
}

func (f *fakeCatalog) GetTemplate(_ context.Context, typeCode, channel string) (*db.Template, error) {
	return f.templates[typeCode+"/"+channel], nil
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		types:     make(map[string]*db.NotificationType),
		templates: make(map[string]*db.Template),
	}
}

func (f *fakeCatalog) addType(code string) {
	f.types[code] = &db.NotificationType{Code: code, Name: code, Active: true}
}

func (f *fakeCatalog) addTemplate(typeCode, channel, subject, body string) {
	var subj *string
	if subject != "" {
		subj = &subject
	}
	f.templates[typeCode+"/"+channel] = &db.Template{
		TypeCode: typeCode,
		Channel:  channel,
		Subject:  subj,
		Body:     body,
		Active:   true,
	}
}

func snapshot() *Snapshot {
	return &Snapshot{
		Customer: &Customer{Name: "Jane Mwangi", Email: "jane@example.com", Phone: "+254700000001"},
		Policy: &Policy{
			PolicyNo:  "POL-2026-0042",
			Product:   "Motor Comprehensive",
			Premium:   125000,
			StartDate: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2027, 1, 14, 0, 0, 0, 0, time.UTC),
		},
		Branding: &Branding{CompanyName: "Coverly", SupportEmail: "help@coverly.io", Currency: "KES"},
	}
}

func TestRenderUnknownType(t *testing.T) {
	cat := newFakeCatalog()
	r := NewResolver(cat, zap.NewNop())

	_, found, err := r.Render(context.Background(), "no_such_type", db.ChannelEmail, RenderContext{Flat: map[string]string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("unknown type should not be found")
	}
}

func TestRenderMissingTemplate(t *testing.T) {
	cat := newFakeCatalog()
	cat.addType("policy_renewal_7d")
	r := NewResolver(cat, zap.NewNop())

	_, found, err := r.Render(context.Background(), "policy_renewal_7d", db.ChannelEmail, RenderContext{Flat: map[string]string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("type without a template for the channel should not be found")
	}
}

func TestRenderStructuredContext(t *testing.T) {
	cat := newFakeCatalog()
	cat.addType("policy_renewal_7d")
	cat.addTemplate("policy_renewal_7d", db.ChannelEmail,
		"Renewal reminder for {{policy.policy_no}}",
		"Dear {{customer.name}}, your policy {{policy.policy_no}} expires on {{policy.end_date}}. Premium due: {{policy.premium}}. — {{company.name}}")
	r := NewResolver(cat, zap.NewNop())

	out, found, err := r.Render(context.Background(), "policy_renewal_7d", db.ChannelEmail, RenderContext{Snapshot: snapshot()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected template to be found")
	}

	wantBody := "Dear Jane Mwangi, your policy POL-2026-0042 expires on 14 Jan 2027. Premium due: KES 125,000.00. — Coverly"
	if out.Body != wantBody {
		t.Errorf("body = %q, want %q", out.Body, wantBody)
	}
	if out.Subject != "Renewal reminder for POL-2026-0042" {
		t.Errorf("subject = %q", out.Subject)
	}
	if out.Variables["customer.name"] != "Jane Mwangi" {
		t.Errorf("used variables missing customer.name: %v", out.Variables)
	}
}

func TestRenderStructuredUnresolvedPathIsEmpty(t *testing.T) {
	cat := newFakeCatalog()
	cat.addType("claim_update")
	cat.addTemplate("claim_update", db.ChannelText, "", "Claim {{claim.claim_no}} update for {{customer.name}}")
	r := NewResolver(cat, zap.NewNop())

	// Snapshot has no claim; the path must render empty, not fail.
	out, found, err := r.Render(context.Background(), "claim_update", db.ChannelText, RenderContext{Snapshot: snapshot()})
	if err != nil || !found {
		t.Fatalf("unexpected result: found=%v err=%v", found, err)
	}
	if out.Body != "Claim  update for Jane Mwangi" {
		t.Errorf("body = %q", out.Body)
	}
}

func TestRenderFlatContextBothSyntaxes(t *testing.T) {
	cat := newFakeCatalog()
	cat.addType("welcome")
	cat.addTemplate("welcome", db.ChannelText, "", "Hi {{name}}, welcome to {company}! Ref {missing}")
	r := NewResolver(cat, zap.NewNop())

	out, found, err := r.Render(context.Background(), "welcome", db.ChannelText, RenderContext{
		Flat: map[string]string{"name": "Ali", "company": "Coverly"},
	})
	if err != nil || !found {
		t.Fatalf("unexpected result: found=%v err=%v", found, err)
	}
	if out.Body != "Hi Ali, welcome to Coverly! Ref {missing}" {
		t.Errorf("body = %q", out.Body)
	}
	if _, ok := out.Variables["missing"]; ok {
		t.Error("missing key should not appear in used variables")
	}
}

func TestRenderPushFallbackChain(t *testing.T) {
	ctx := context.Background()

	// Push template present: used directly.
	cat := newFakeCatalog()
	cat.addType("claim_update")
	cat.addTemplate("claim_update", db.ChannelPush, "", "push body")
	cat.addTemplate("claim_update", db.ChannelChat, "", "chat body")
	r := NewResolver(cat, zap.NewNop())

	out, found, _ := r.RenderPush(ctx, "claim_update", RenderContext{Flat: map[string]string{}})
	if !found || out.Body != "push body" {
		t.Errorf("push body = %q, found=%v", out.Body, found)
	}

	// No push template: chat body wins over text.
	cat = newFakeCatalog()
	cat.addType("claim_update")
	cat.addTemplate("claim_update", db.ChannelChat, "", "chat body")
	cat.addTemplate("claim_update", db.ChannelText, "", "text body")
	r = NewResolver(cat, zap.NewNop())

	out, _, _ = r.RenderPush(ctx, "claim_update", RenderContext{Flat: map[string]string{}})
	if out.Body != "chat body" {
		t.Errorf("body = %q, want chat body", out.Body)
	}

	// No body template anywhere: humanized type code.
	cat = newFakeCatalog()
	cat.addType("claim_update")
	r = NewResolver(cat, zap.NewNop())

	out, found, _ = r.RenderPush(ctx, "claim_update", RenderContext{Flat: map[string]string{}})
	if !found {
		t.Fatal("push render should fall back, not report not-found")
	}
	if out.Body != "Claim update" {
		t.Errorf("body = %q, want humanized code", out.Body)
	}
}

func TestRenderPushTitle(t *testing.T) {
	ctx := context.Background()

	cat := newFakeCatalog()
	cat.addType("claim_update")
	cat.addTemplate("claim_update", db.ChannelPush, "", "push body")
	cat.addTemplate("claim_update", PushTitleChannel, "", "Claim {{claim.claim_no}}")
	r := NewResolver(cat, zap.NewNop())

	snap := snapshot()
	snap.Claim = &Claim{ClaimNo: "CLM-77"}

	out, _, _ := r.RenderPush(ctx, "claim_update", RenderContext{Snapshot: snap})
	if out.Title != "Claim CLM-77" {
		t.Errorf("title = %q", out.Title)
	}

	// Without a title template the branding company name is used.
	cat = newFakeCatalog()
	cat.addType("claim_update")
	cat.addTemplate("claim_update", db.ChannelPush, "", "push body")
	r = NewResolver(cat, zap.NewNop())

	out, _, _ = r.RenderPush(ctx, "claim_update", RenderContext{Snapshot: snap})
	if out.Title != "Coverly" {
		t.Errorf("title = %q, want company name", out.Title)
	}
}

func TestRenderPushUnknownType(t *testing.T) {
	r := NewResolver(newFakeCatalog(), zap.NewNop())

	_, found, err := r.RenderPush(context.Background(), "nope", RenderContext{Flat: map[string]string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("unknown type should not be found even for push")
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   float64
		currency string
		want     string
	}{
		{1250000, "KES", "KES 1,250,000.00"},
		{999.5, "", "999.50"},
		{-10500, "USD", "USD -10,500.00"},
		{0, "KES", "KES 0.00"},
	}

	for _, tt := range tests {
		if got := FormatAmount(tt.amount, tt.currency); got != tt.want {
			t.Errorf("FormatAmount(%v, %q) = %q, want %q", tt.amount, tt.currency, got, tt.want)
		}
	}
}

func TestHumanizeTypeCode(t *testing.T) {
	if got := HumanizeTypeCode("policy_renewal_7d"); got != "Policy renewal 7d" {
		t.Errorf("HumanizeTypeCode = %q", got)
	}
}

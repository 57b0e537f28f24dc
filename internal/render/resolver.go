// Package render resolves notification templates and binds context
// variables into them. A missing type or template is the only
// "not found" outcome; missing variables never fail a render.
package render

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/coverly/courier/internal/db"
)

// PushTitleChannel is the pseudo-channel under which push title
// sub-templates are cataloged.
const PushTitleChannel = "push_title"

// Catalog is the read-only template catalog the resolver consumes.
type Catalog interface {
	GetNotificationType(ctx context.Context, code string) (*db.NotificationType, error)
	GetTemplate(ctx context.Context, typeCode, channel string) (*db.Template, error)
}

// Rendered is the output of a successful resolution.
type Rendered struct {
	Subject   string
	Body      string
	Title     string            // push only
	Variables map[string]string // variables actually bound, for audit/replay
}

// Resolver renders templates from the catalog.
type Resolver struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewResolver creates a template resolver.
func NewResolver(catalog Catalog, logger *zap.Logger) *Resolver {
	return &Resolver{catalog: catalog, logger: logger}
}

// Render resolves the active template for (typeCode, channel) and binds
// the context into it. found=false when the type is unknown/inactive or
// no active template exists for the channel.
func (r *Resolver) Render(ctx context.Context, typeCode, channel string, rc RenderContext) (*Rendered, bool, error) {
	nt, err := r.catalog.GetNotificationType(ctx, typeCode)
	if err != nil {
		return nil, false, err
	}
	if nt == nil {
		return nil, false, nil
	}

	tmpl, err := r.catalog.GetTemplate(ctx, typeCode, channel)
	if err != nil {
		return nil, false, err
	}
	if tmpl == nil {
		return nil, false, nil
	}

	out := r.bindTemplate(tmpl, rc)
	return out, true, nil
}

// RenderPush resolves push content. The body falls back from the push
// template to the chat then text body templates, and finally to a
// humanized form of the type code; the title comes from the push_title
// sub-template with the branding company name as fallback. found=false
// only when the notification type itself is unknown or inactive.
func (r *Resolver) RenderPush(ctx context.Context, typeCode string, rc RenderContext) (*Rendered, bool, error) {
	nt, err := r.catalog.GetNotificationType(ctx, typeCode)
	if err != nil {
		return nil, false, err
	}
	if nt == nil {
		return nil, false, nil
	}

	var out *Rendered
	for _, channel := range []string{db.ChannelPush, db.ChannelChat, db.ChannelText} {
		tmpl, err := r.catalog.GetTemplate(ctx, typeCode, channel)
		if err != nil {
			return nil, false, err
		}
		if tmpl != nil {
			out = r.bindTemplate(tmpl, rc)
			break
		}
	}
	if out == nil {
		r.logger.Info("no push body template, using humanized type code",
			zap.String("type_code", typeCode),
		)
		out = &Rendered{Body: HumanizeTypeCode(typeCode), Variables: map[string]string{}}
	}

	titleTmpl, err := r.catalog.GetTemplate(ctx, typeCode, PushTitleChannel)
	if err != nil {
		return nil, false, err
	}
	switch {
	case titleTmpl != nil:
		bound := r.bindTemplate(titleTmpl, rc)
		out.Title = bound.Body
		for k, v := range bound.Variables {
			out.Variables[k] = v
		}
	case rc.Snapshot != nil && rc.Snapshot.Branding != nil && rc.Snapshot.Branding.CompanyName != "":
		out.Title = rc.Snapshot.Branding.CompanyName
	default:
		out.Title = HumanizeTypeCode(typeCode)
	}

	return out, true, nil
}

func (r *Resolver) bindTemplate(tmpl *db.Template, rc RenderContext) *Rendered {
	bind := func(text string) (string, map[string]string) {
		if rc.Snapshot != nil {
			return bindStructured(text, rc.Snapshot.Vars())
		}
		return bindFlat(text, rc.Flat)
	}

	body, used := bind(tmpl.Body)
	out := &Rendered{Body: body, Variables: used}

	if tmpl.Subject != nil && *tmpl.Subject != "" {
		subject, subjectUsed := bind(*tmpl.Subject)
		out.Subject = subject
		for k, v := range subjectUsed {
			out.Variables[k] = v
		}
	}

	return out
}

// placeholderRe matches both {{key}} and {key} placeholder syntaxes with
// dotted paths.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}|\{([A-Za-z0-9_.]+)\}`)

// bindStructured substitutes dotted paths from the flattened snapshot.
// Unresolved paths render as empty strings rather than failing the
// whole render.
func bindStructured(text string, vars map[string]string) (string, map[string]string) {
	used := make(map[string]string)

	out := placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		key := groups[1]
		if key == "" {
			key = groups[2]
		}
		val, ok := vars[key]
		if !ok {
			return ""
		}
		used[key] = val
		return val
	})

	return out, used
}

// bindFlat applies legacy flat-map substitution: each key is replaced
// literally in both syntaxes. Placeholders without a map entry are left
// as-is, matching the legacy behavior.
func bindFlat(text string, vars map[string]string) (string, map[string]string) {
	used := make(map[string]string)

	for key, val := range vars {
		double := "{{" + key + "}}"
		single := "{" + key + "}"
		if strings.Contains(text, double) || strings.Contains(text, single) {
			used[key] = val
		}
		text = strings.ReplaceAll(text, double, val)
		text = strings.ReplaceAll(text, single, val)
	}

	return text, used
}

// HumanizeTypeCode turns a code like "policy_renewal_7d" into
// "Policy renewal 7d" for last-resort content.
func HumanizeTypeCode(code string) string {
	words := strings.Split(code, "_")
	if len(words) == 0 {
		return code
	}
	out := strings.Join(words, " ")
	if out == "" {
		return code
	}
	return strings.ToUpper(out[:1]) + out[1:]
}

// Package notify turns order events into customer emails.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/muebleria/internal/models"
	"github.com/Skotchmaster/muebleria/internal/service"
	"github.com/Skotchmaster/muebleria/pkg/logging"
)

type Email struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// LogMailer writes the email to the log instead of delivering it.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, e Email) error {
	logging.FromContext(ctx).Info("email_rendered", "to", e.To, "subject", e.Subject, "body", e.Body)
	return nil
}

type message struct {
	subject string
	body    *template.Template
}

var funcs = template.FuncMap{"clp": FormatCLP}

func mustMessage(subject, body string) message {
	return message{subject: subject, body: template.Must(template.New(subject).Funcs(funcs).Parse(body))}
}

var created = mustMessage("Recibimos tu pedido", `Hola {{.FullName}},

Recibimos tu pedido {{.Short}} por un total de {{clp .Total}}.
Medio de pago: {{.PaymentMethod}}.
Te avisaremos cuando confirmemos el pago.

Mueblería San Bernardo
`)

var byStatus = map[models.OrderStatus]message{
	models.OrderStatusPaid: mustMessage("Pago confirmado", `Hola {{.FullName}},

Confirmamos el pago de tu pedido {{.Short}} ({{clp .Total}}). Ya lo estamos preparando.

Mueblería San Bernardo
`),
	models.OrderStatusShipped: mustMessage("Tu pedido va en camino", `Hola {{.FullName}},

Tu pedido {{.Short}} salió de nuestra bodega y va camino a tu dirección.

Mueblería San Bernardo
`),
	models.OrderStatusDelivered: mustMessage("Pedido entregado", `Hola {{.FullName}},

Tu pedido {{.Short}} fue entregado. ¡Gracias por comprar con nosotros!

Mueblería San Bernardo
`),
	models.OrderStatusCancelled: mustMessage("Pedido cancelado", `Hola {{.FullName}},

Tu pedido {{.Short}} fue cancelado.{{if eq .PreviousStatus "paid"}} Nos pondremos en contacto para devolver tu pago.{{end}}

Mueblería San Bernardo
`),
}

type view struct {
	service.OrderEvent
	Short string
}

// Render builds the email for ev. ok is false for events that send nothing.
func Render(ev service.OrderEvent) (e Email, ok bool, err error) {
	var msg message
	switch ev.Type {
	case service.EventOrderCreated:
		msg = created
	case service.EventOrderStatusChanged:
		if msg, ok = byStatus[ev.Status]; !ok {
			return Email{}, false, nil
		}
	default:
		return Email{}, false, nil
	}
	if ev.Email == "" {
		return Email{}, false, errors.New("order event without email")
	}

	short := strings.ToUpper(ev.OrderID.String()[:8])
	var buf bytes.Buffer
	if err := msg.body.Execute(&buf, view{OrderEvent: ev, Short: "#" + short}); err != nil {
		return Email{}, false, err
	}

	return Email{
		To:      ev.Email,
		Subject: fmt.Sprintf("%s #%s", msg.subject, short),
		Body:    buf.String(),
	}, true, nil
}

type Handler struct {
	Mailer Mailer
}

func (h *Handler) Handle(ctx context.Context, m kafka.Message) error {
	var ev service.OrderEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return fmt.Errorf("decode order event: %w", err)
	}

	email, ok, err := Render(ev)
	if err != nil {
		return fmt.Errorf("render %s for order %s: %w", ev.Type, ev.OrderID, err)
	}
	if !ok {
		return nil
	}
	return h.Mailer.Send(ctx, email)
}

// FormatCLP writes whole pesos with dot thousands separators, e.g. $1.234.990.
func FormatCLP(d decimal.Decimal) string {
	digits := d.Abs().Round(0).StringFixed(0)

	var b strings.Builder
	if d.IsNegative() && digits != "0" {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return b.String()
}

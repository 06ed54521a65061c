// Package smtp delivers customer-facing notifications as HTML email.
package smtp

import (
	"bytes"
	"context"
	"html/template"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/wneessen/go-mail"

	"github.com/xenking/lascentlo/internal/domain/notify"
)

// Config configures the SMTP relay and the links embedded in messages.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ClientURL is the storefront base URL used in reset and verification links.
	ClientURL string
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

var _ notify.Sink = (*Sink)(nil)

// Sink renders events into email messages and sends them over SMTP.
type Sink struct {
	client    sender
	from      string
	clientURL string
}

// New dials nothing; the connection is opened per delivery.
func New(cfg Config) (*Sink, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create smtp client")
	}
	return newSink(c, cfg), nil
}

func newSink(c sender, cfg Config) *Sink {
	return &Sink{client: c, from: cfg.From, clientURL: cfg.ClientURL}
}

// Name implements notify.Sink.
func (s *Sink) Name() string { return "email" }

// Send implements notify.Sink. Events without a recipient or without an
// email template are acknowledged without sending.
func (s *Sink) Send(ctx context.Context, evt notify.Event) error {
	tmpl, ok := templates[evt.Type]
	if !ok || evt.Recipient == "" {
		return nil
	}
	msg, err := s.render(tmpl, evt)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.Wrapf(err, "send %s to %s", evt.Type, evt.Recipient)
	}
	return nil
}

func (s *Sink) render(tmpl message, evt notify.Event) (*mail.Msg, error) {
	data := map[string]any{}
	for k, v := range evt.Payload {
		data[k] = v
	}
	if token, ok := evt.Payload[notify.TokenKey].(string); ok {
		esc := url.PathEscape(token)
		data["resetURL"] = s.clientURL + "/reset-password/" + esc
		data["verifyURL"] = s.clientURL + "/verify-email/" + esc
	}
	if evt.OrderID != "" {
		data["orderURL"] = s.clientURL + "/orders/" + url.PathEscape(evt.OrderID)
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, data); err != nil {
		return nil, errors.Wrapf(err, "render %s", evt.Type)
	}

	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, errors.Wrap(err, "set from")
	}
	if err := m.To(evt.Recipient); err != nil {
		return nil, errors.Wrap(err, "set recipient")
	}
	m.Subject(tmpl.subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextHTML, body.String())
	return m, nil
}

type message struct {
	subject string
	body    *template.Template
}

func parse(name, src string) *template.Template {
	return template.Must(template.New(name).Parse(src))
}

var templates = map[notify.Type]message{
	notify.OrderConfirmation: {
		subject: "Order Confirmation",
		body: parse("order", `<h1>Thank you for your order</h1>
<p>Your order <strong>{{.orderId}}</strong> has been received.</p>
<p>Total: ${{.total}}</p>
<p><a href="{{.orderURL}}">View your order</a></p>`),
	},
	notify.PaymentConfirmation: {
		subject: "Payment Confirmation",
		body: parse("payment", `<h1>Payment received</h1>
<p>We received your payment of ${{.total}} for order <strong>{{.orderId}}</strong>.</p>
<p>Transaction: {{.transactionId}}</p>`),
	},
	notify.ShippingUpdate: {
		subject: "Your Order Has Shipped",
		body: parse("shipped", `<h1>Your order is on its way</h1>
<p>Order <strong>{{.orderId}}</strong> has shipped.</p>
<p>Tracking number: {{.trackingNumber}}</p>
<p>Estimated delivery: {{.estimatedDelivery}}</p>`),
	},
	notify.RefundRequired: {
		subject: "Your Order Was Cancelled",
		body: parse("refund", `<h1>We're sorry</h1>
<p>An item in order <strong>{{.orderId}}</strong> sold out before we could reserve it.</p>
<p>Your order was cancelled and ${{.amount}} will be refunded.</p>`),
	},
	notify.PasswordReset: {
		subject: "Reset Your Password",
		body: parse("reset", `<h1>Reset Your Password</h1>
<p>Please click the link below to reset your password:</p>
<a href="{{.resetURL}}">Reset Password</a>
<p>This link will expire in 1 hour.</p>`),
	},
	notify.EmailVerification: {
		subject: "Verify Your Email",
		body: parse("verify", `<h1>Verify Your Email</h1>
<p>Please click the link below to verify your email address:</p>
<a href="{{.verifyURL}}">Verify Email</a>`),
	},
}

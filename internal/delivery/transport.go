package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
	"github.com/sentinel-hq/sentinel/internal/pkg/retry"
)

// Message is one fully rendered, instrumented email ready to send.
type Message struct {
	To          string
	FromEmail   string
	FromName    string
	Subject     string
	HTML        string
	Text        string
	Headers     map[string]string
	CampaignID  string
	RecipientID string
}

// Transport delivers a single message through one mail provider and
// returns the provider's message id when it issues one.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg *Message) (string, error)
}

// SESTransport sends through AWS SES.
type SESTransport struct {
	client  *sesv2.Client
	timeout time.Duration
	log     *logger.Logger
}

// NewSESTransport builds the SES transport. With empty keys the default
// credential chain is used.
func NewSESTransport(ctx context.Context, accessKey, secretKey, region string, timeout time.Duration) (*SESTransport, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading SES config: %w", err)
	}

	return &SESTransport{
		client:  sesv2.NewFromConfig(cfg),
		timeout: timeout,
		log:     logger.Component("ses-transport"),
	}, nil
}

func (t *SESTransport) Name() string { return "ses" }

func (t *SESTransport) Send(ctx context.Context, msg *Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &sestypes.Destination{ToAddresses: []string{msg.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &sestypes.Body{
					Html: &sestypes.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []sestypes.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("recipient_id"), Value: aws.String(msg.RecipientID)},
		},
	}

	if msg.Text != "" {
		input.Content.Simple.Body.Text = &sestypes.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	for _, k := range sortedKeys(msg.Headers) {
		input.Content.Simple.Headers = append(input.Content.Simple.Headers, sestypes.MessageHeader{
			Name:  aws.String(k),
			Value: aws.String(msg.Headers[k]),
		})
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return "", err
	}

	t.log.Debug("sent", "to", msg.To, "message_id", aws.ToString(out.MessageId))
	return aws.ToString(out.MessageId), nil
}

const gmailSendURL = "https://gmail.googleapis.com/gmail/v1/users/me/messages/send"

// GmailTransport sends through the Gmail API using a delegated
// account's OAuth refresh token.
type GmailTransport struct {
	httpClient *http.Client
	timeout    time.Duration
	log        *logger.Logger
}

func NewGmailTransport(clientID, clientSecret, refreshToken string, timeout time.Duration) *GmailTransport {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.send"},
	}
	token := &oauth2.Token{RefreshToken: refreshToken}

	return &GmailTransport{
		httpClient: cfg.Client(context.Background(), token),
		timeout:    timeout,
		log:        logger.Component("gmail-transport"),
	}
}

func (t *GmailTransport) Name() string { return "gmail" }

func (t *GmailTransport) Send(ctx context.Context, msg *Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	raw := base64.URLEncoding.EncodeToString(buildMIME(msg))
	body, err := json.Marshal(map[string]string{"raw": raw})
	if err != nil {
		return "", &retry.Permanent{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gmailSendURL, bytes.NewReader(body))
	if err != nil {
		return "", &retry.Permanent{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var sent struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&sent); err != nil {
		// The mail is out; a malformed response only costs the id.
		t.log.Warn("decoding send response", "error", err.Error())
	}

	t.log.Debug("sent", "to", msg.To, "message_id", sent.ID)
	return sent.ID, nil
}

// buildMIME assembles a multipart/alternative RFC 2822 message. The
// boundary is random per message so body content can never collide
// with it.
func buildMIME(msg *Message) []byte {
	var buf bytes.Buffer
	boundary := "alt-" + uuid.NewString()

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", msg.FromName, msg.FromEmail)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	for _, k := range sortedKeys(msg.Headers) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, msg.Headers[k])
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	if msg.Text != "" {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.Text)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	buf.WriteString(msg.HTML)
	fmt.Fprintf(&buf, "\r\n--%s--\r\n", boundary)

	return buf.Bytes()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

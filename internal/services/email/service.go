package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mindgym/api/config"
)

type Service struct {
	config *config.Config
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
	}
}

// SendPremiumActivatedEmail confirms a new premium membership
func (s *Service) SendPremiumActivatedEmail(to, planID string) error {
	subject := "Welcome to MindGym Premium"
	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head>
			<meta charset="utf-8">
		</head>
		<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
			<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
				<h1 style="color: #4F46E5;">Your premium membership is active</h1>
				<p>Thanks for subscribing to the <strong>%s</strong> plan. All premium exercises, audio sessions and courses are now unlocked.</p>
				<p style="margin: 30px 0;">
					<a href="%s" style="background-color: #4F46E5; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">
						Start training
					</a>
				</p>
				<p style="color: #666; font-size: 14px;">
					You can manage your subscription at any time from your account settings.
				</p>
			</div>
		</body>
		</html>
	`, planID, s.config.FrontendURL)

	plainContent := fmt.Sprintf(`
Your premium membership is active

Thanks for subscribing to the %s plan. All premium exercises, audio sessions and courses are now unlocked.

%s

You can manage your subscription at any time from your account settings.
	`, planID, s.config.FrontendURL)

	return s.sendEmail(to, subject, plainContent, htmlContent)
}

// SendPaymentFailedEmail notifies a member that a renewal payment failed
func (s *Service) SendPaymentFailedEmail(to string) error {
	billingURL := s.config.FrontendURL + "/account/billing"

	subject := "Payment failed - MindGym"
	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head>
			<meta charset="utf-8">
		</head>
		<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
			<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
				<h1 style="color: #4F46E5;">We couldn't process your payment</h1>
				<p>The latest payment for your premium membership failed. Your access is unchanged for now, but please update your payment method to keep it that way.</p>
				<p style="margin: 30px 0;">
					<a href="%s" style="background-color: #4F46E5; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">
						Update payment method
					</a>
				</p>
				<p style="color: #666; font-size: 14px;">
					If payments keep failing, your subscription will be cancelled by the payment provider.
				</p>
			</div>
		</body>
		</html>
	`, billingURL)

	plainContent := fmt.Sprintf(`
We couldn't process your payment

The latest payment for your premium membership failed. Your access is unchanged for now, but please update your payment method to keep it that way.

%s

If payments keep failing, your subscription will be cancelled by the payment provider.
	`, billingURL)

	return s.sendEmail(to, subject, plainContent, htmlContent)
}

// MailerSendRequest represents the MailerSend API request structure
type MailerSendRequest struct {
	From    EmailAddress   `json:"from"`
	To      []EmailAddress `json:"to"`
	Subject string         `json:"subject"`
	Text    string         `json:"text"`
	HTML    string         `json:"html"`
}

type EmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// sendEmail sends an email using MailerSend
func (s *Service) sendEmail(to, subject, plainContent, htmlContent string) error {
	// If no API key is configured, log the email instead (for development)
	if s.config.MailerSendAPIKey == "" {
		fmt.Printf("\n=== EMAIL (MailerSend not configured) ===\n")
		fmt.Printf("To: %s\n", to)
		fmt.Printf("Subject: %s\n", subject)
		fmt.Printf("Content:\n%s\n", plainContent)
		fmt.Printf("=====================================\n\n")
		return nil
	}

	payload := MailerSendRequest{
		From: EmailAddress{
			Email: s.config.MailerSendFromEmail,
			Name:  s.config.MailerSendFromName,
		},
		To: []EmailAddress{
			{Email: to},
		},
		Subject: subject,
		Text:    plainContent,
		HTML:    htmlContent,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequest("POST", "https://api.mailersend.com/v1/email", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.config.MailerSendAPIKey))

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errorBody bytes.Buffer
		errorBody.ReadFrom(resp.Body)
		return fmt.Errorf("mailersend returned error: %d - %s", resp.StatusCode, errorBody.String())
	}

	return nil
}

package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DarajaProvider implements M-Pesa STK push against the Safaricom Daraja API.
// Tokens come from the client-credentials flow and are cached/refreshed by
// the oauth2 transport.
type DarajaProvider struct {
	BaseURL   string
	ShortCode string
	passkey   string
	client    *http.Client
	now       func() time.Time
}

func NewDarajaProvider(baseURL, consumerKey, consumerSecret, shortCode, passkey string, timeout time.Duration) *DarajaProvider {
	if baseURL == "" {
		baseURL = "https://sandbox.safaricom.co.ke"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cc := clientcredentials.Config{
		ClientID:     consumerKey,
		ClientSecret: consumerSecret,
		TokenURL:     baseURL + "/oauth/v1/generate?grant_type=client_credentials",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	client := cc.Client(context.Background())
	client.Timeout = timeout
	return &DarajaProvider{
		BaseURL:   baseURL,
		ShortCode: shortCode,
		passkey:   passkey,
		client:    client,
		now:       time.Now,
	}
}

// password returns the Daraja request password: base64(shortcode+passkey+timestamp).
func (p *DarajaProvider) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(p.ShortCode + p.passkey + timestamp))
}

type darajaSTKReq struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type darajaSTKResp struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (p *DarajaProvider) InitiateSTKPush(ctx context.Context, req STKRequest) (*STKResponse, error) {
	timestamp := p.now().Format("20060102150405")
	// Daraja takes whole KES, not cents.
	amount := req.AmountCents / 100
	if amount < 1 {
		amount = 1
	}
	payload := darajaSTKReq{
		BusinessShortCode: p.ShortCode,
		Password:          p.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            req.PayerPhone,
		PartyB:            p.ShortCode,
		PhoneNumber:       req.PayerPhone,
		CallBackURL:       req.CallbackURL,
		AccountReference:  req.OrderReference,
		TransactionDesc:   req.Description,
	}
	body, _ := json.Marshal(payload)
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Content-Type", "application/json")
	log.Printf("[DARAJA] POST /mpesa/stkpush/v1/processrequest order_ref=%s callback=%s", req.OrderReference, req.CallbackURL)
	resp, err := p.client.Do(apiReq)
	if err != nil {
		return nil, fmt.Errorf("daraja stkpush: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("[DARAJA] stkpush status=%d body=%s", resp.StatusCode, string(respBody))
		return nil, fmt.Errorf("daraja stkpush: status %d", resp.StatusCode)
	}
	var out darajaSTKResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("daraja stkpush: %w", err)
	}
	if out.ResponseCode != "0" {
		return nil, fmt.Errorf("daraja stkpush rejected: code=%s desc=%s", out.ResponseCode, out.ResponseDescription)
	}
	log.Printf("[DARAJA] stk accepted checkout_request_id=%s merchant_request_id=%s", out.CheckoutRequestID, out.MerchantRequestID)
	return &STKResponse{
		CheckoutRequestID: out.CheckoutRequestID,
		MerchantRequestID: out.MerchantRequestID,
		ResponseCode:      out.ResponseCode,
		CustomerMessage:   out.CustomerMessage,
		Raw:               string(respBody),
	}, nil
}

type darajaQueryReq struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type darajaQueryResp struct {
	ResponseCode string `json:"ResponseCode"`
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
}

func (p *DarajaProvider) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*QueryResponse, error) {
	timestamp := p.now().Format("20060102150405")
	payload := darajaQueryReq{
		BusinessShortCode: p.ShortCode,
		Password:          p.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}
	body, _ := json.Marshal(payload)
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/mpesa/stkpushquery/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(apiReq)
	if err != nil {
		return nil, fmt.Errorf("daraja query: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daraja query: status %d", resp.StatusCode)
	}
	var out darajaQueryResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("daraja query: %w", err)
	}
	return &QueryResponse{
		ResultCode: out.ResultCode,
		ResultDesc: out.ResultDesc,
		Raw:        string(respBody),
	}, nil
}

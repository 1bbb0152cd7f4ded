package service

import (
	"crypto/subtle"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPEngine implements RFC 6238 codes: HMAC-SHA1 over 30 second steps, six digits,
// accepting one step of drift on either side.
type TOTPEngine struct {
	Issuer    string
	Period    uint
	Skew      uint
	Digits    otp.Digits
	Algorithm otp.Algorithm
}

func NewTOTPEngine(issuer string) *TOTPEngine {
	return &TOTPEngine{
		Issuer:    issuer,
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func (e *TOTPEngine) GenerateSecret(accountName string) (string, error) {
	if strings.TrimSpace(accountName) == "" {
		accountName = "pending"
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      fallbackIssuer(e.Issuer),
		AccountName: accountName,
		Period:      e.period(),
		SecretSize:  20,
		Digits:      e.digits(),
		Algorithm:   e.algorithm(),
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// ProvisioningURI builds the otpauth:// URI authenticator apps scan from a QR code.
func (e *TOTPEngine) ProvisioningURI(accountName string, secret string) string {
	issuer := fallbackIssuer(e.Issuer)
	label := url.PathEscape(issuer + ":" + accountName)
	query := url.Values{}
	query.Set("secret", secret)
	query.Set("issuer", issuer)
	query.Set("algorithm", e.algorithm().String())
	query.Set("digits", e.digits().String())
	query.Set("period", strconv.FormatUint(uint64(e.period()), 10))
	return "otpauth://totp/" + label + "?" + query.Encode()
}

func (e *TOTPEngine) CurrentCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, e.opts())
}

// Match returns the time step whose code equals code, looking at the step containing t
// and Skew steps around it.
func (e *TOTPEngine) Match(secret string, code string, t time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != e.digits().Length() || !isDigits(code) {
		return 0, false
	}
	period := time.Duration(e.period()) * time.Second
	skew := int(e.skew())
	for delta := -skew; delta <= skew; delta++ {
		at := t.Add(time.Duration(delta) * period)
		expected, err := totp.GenerateCodeCustom(secret, at, e.opts())
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return at.Unix() / int64(e.period()), true
		}
	}
	return 0, false
}

func (e *TOTPEngine) Verify(secret string, code string, t time.Time) bool {
	_, ok := e.Match(secret, code, t)
	return ok
}

func (e *TOTPEngine) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    e.period(),
		Skew:      0,
		Digits:    e.digits(),
		Algorithm: e.algorithm(),
	}
}

func (e *TOTPEngine) period() uint {
	if e.Period == 0 {
		return 30
	}
	return e.Period
}

func (e *TOTPEngine) skew() uint {
	if e.Skew == 0 {
		return 1
	}
	return e.Skew
}

func (e *TOTPEngine) digits() otp.Digits {
	if e.Digits == 0 {
		return otp.DigitsSix
	}
	return e.Digits
}

func (e *TOTPEngine) algorithm() otp.Algorithm {
	if e.Algorithm == 0 {
		return otp.AlgorithmSHA1
	}
	return e.Algorithm
}

func fallbackIssuer(issuer string) string {
	if strings.TrimSpace(issuer) == "" {
		return "authcore"
	}
	return issuer
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}

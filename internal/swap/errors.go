package swap

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	xerrors "VoiceSwap/internal/errors"
)

const (
	// CodePaymentRequired 表示后端要求先完成付费再提供服务。
	CodePaymentRequired xerrors.Code = "PAYMENT_REQUIRED"
	// CodeInsufficientGasTank 表示预付执行费用不足或已耗尽。
	CodeInsufficientGasTank xerrors.Code = "INSUFFICIENT_GAS_TANK"
	// CodeBackendFailure 表示其他后端错误。
	CodeBackendFailure xerrors.Code = "SWAP_BACKEND_FAILURE"
)

// 错误附加信息的键。
const (
	MetaSwapsRemaining = "swaps_remaining"
	MetaPrice          = "price"
	MetaNetwork        = "network"
	MetaAsset          = "asset"
	MetaPayTo          = "pay_to"
	MetaHTTPStatus     = "http_status"
)

func init() {
	xerrors.Register(CodePaymentRequired, xerrors.Attributes{Message: "payment required", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInsufficientGasTank, xerrors.Attributes{Message: "insufficient gas tank balance", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeBackendFailure, xerrors.Attributes{Message: "swap service failure", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true})
}

// PaymentRequirement 是后端通过响应头下发的付费要求。
type PaymentRequirement struct {
	Price   string `json:"price"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
	PayTo   string `json:"payTo"`
}

// ParsePaymentRequirement 从响应头中读取付费要求。优先读取独立的
// X-Payment-* 头，缺失时尝试解析 base64 编码的 X-Payment-Required。
func ParsePaymentRequirement(header http.Header) (PaymentRequirement, bool) {
	req := PaymentRequirement{
		Price:   strings.TrimSpace(header.Get("X-Payment-Price")),
		Network: strings.TrimSpace(header.Get("X-Payment-Network")),
		Asset:   strings.TrimSpace(header.Get("X-Payment-Asset")),
		PayTo:   strings.TrimSpace(header.Get("X-Payment-Pay-To")),
	}
	if req.Price != "" {
		return req, true
	}

	encoded := strings.TrimSpace(header.Get("X-Payment-Required"))
	if encoded == "" {
		return PaymentRequirement{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return PaymentRequirement{}, false
	}

	var envelope struct {
		PaymentRequirement
		Accepts []struct {
			MaxAmountRequired string `json:"maxAmountRequired"`
			Network           string `json:"network"`
			Asset             string `json:"asset"`
			PayTo             string `json:"payTo"`
		} `json:"accepts"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PaymentRequirement{}, false
	}
	decoded := envelope.PaymentRequirement
	if decoded.Price == "" && len(envelope.Accepts) > 0 {
		first := envelope.Accepts[0]
		decoded = PaymentRequirement{
			Price:   first.MaxAmountRequired,
			Network: first.Network,
			Asset:   first.Asset,
			PayTo:   first.PayTo,
		}
	}
	if decoded.Price == "" {
		return PaymentRequirement{}, false
	}
	return decoded, true
}

// NewPaymentRequiredError 创建携带付费要求的错误。
func NewPaymentRequiredError(req PaymentRequirement) *xerrors.Error {
	return xerrors.New(CodePaymentRequired, "",
		xerrors.WithMetadata(MetaPrice, req.Price),
		xerrors.WithMetadata(MetaNetwork, req.Network),
		xerrors.WithMetadata(MetaAsset, req.Asset),
		xerrors.WithMetadata(MetaPayTo, req.PayTo),
	)
}

// PaymentRequirementOf 从错误中还原付费要求。
func PaymentRequirementOf(err error) (PaymentRequirement, bool) {
	if xerrors.CodeOf(err) != CodePaymentRequired {
		return PaymentRequirement{}, false
	}
	price, _ := xerrors.MetadataValue(err, MetaPrice)
	network, _ := xerrors.MetadataValue(err, MetaNetwork)
	asset, _ := xerrors.MetadataValue(err, MetaAsset)
	payTo, _ := xerrors.MetadataValue(err, MetaPayTo)
	return PaymentRequirement{Price: price, Network: network, Asset: asset, PayTo: payTo}, true
}

// NewInsufficientGasTankError 创建余额不足错误，remaining 为剩余可执行次数。
func NewInsufficientGasTankError(message string, remaining int) *xerrors.Error {
	return xerrors.New(CodeInsufficientGasTank, message,
		xerrors.WithMetadata(MetaSwapsRemaining, strconv.Itoa(remaining)),
	)
}

// SwapsRemainingOf 读取余额不足错误中的剩余次数。
func SwapsRemainingOf(err error) (int, bool) {
	raw, ok := xerrors.MetadataValue(err, MetaSwapsRemaining)
	if !ok {
		return 0, false
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return 0, false
	}
	return n, true
}

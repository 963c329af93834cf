package domain

import "errors"

const (
	CodeUnauthorized          = "unauthorized"
	CodeForbidden             = "forbidden"
	CodeSubscriptionExpired   = "subscription_expired"
	CodeInventoryDisabled     = "inventory_disabled"
	CodeValidation            = "validation"
	CodeInvalidQuantity       = "invalid_quantity"
	CodeInvalidBranch         = "invalid_branch"
	CodeItemNotFound          = "item_not_found"
	CodeOrderNotFound         = "order_not_found"
	CodeInsufficientStock     = "insufficient_stock"
	CodeOrderNotOpen          = "order_not_open"
	CodeUnderpayment          = "underpayment"
	CodeCardOverpayment       = "card_overpayment"
	CodeInvalidPaymentMethod  = "invalid_payment_method"
	CodeRaceCondition         = "race_condition"
	CodeOrderNotRefundable    = "order_not_refundable"
	CodeInvalidRefundType     = "invalid_refund_type"
	CodeRefundExceedsAvail    = "refund_exceeds_available"
	CodeCountImmutable        = "count_immutable"
	CodeConflict              = "conflict"
	CodeInternal              = "internal"
)

// CodedError is a business rejection with a stable machine code and
// bilingual human-readable messages. Codes are part of the API contract.
type CodedError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	MessageAr string `json:"message_ar"`
}

func (e *CodedError) Error() string { return e.Message }

var messages = map[string][2]string{
	CodeUnauthorized:         {"authentication required", "مطلوب تسجيل الدخول"},
	CodeForbidden:            {"not allowed for this role", "غير مسموح لهذا الدور"},
	CodeSubscriptionExpired:  {"subscription expired", "انتهى الاشتراك"},
	CodeInventoryDisabled:    {"inventory module is disabled", "وحدة المخزون معطلة"},
	CodeValidation:           {"invalid request", "طلب غير صالح"},
	CodeInvalidQuantity:      {"quantity must be greater than zero", "يجب أن تكون الكمية أكبر من صفر"},
	CodeInvalidBranch:        {"branch does not belong to this restaurant", "الفرع لا يتبع هذا المطعم"},
	CodeItemNotFound:         {"inventory item not found", "الصنف غير موجود"},
	CodeOrderNotFound:        {"order not found", "الطلب غير موجود"},
	CodeInsufficientStock:    {"insufficient stock", "المخزون غير كافٍ"},
	CodeOrderNotOpen:         {"order is not payable in its current status", "الطلب غير قابل للدفع في حالته الحالية"},
	CodeUnderpayment:         {"tendered amount is less than the total", "المبلغ المدفوع أقل من الإجمالي"},
	CodeCardOverpayment:      {"non-cash payments cannot exceed the total", "لا يمكن أن تتجاوز المدفوعات غير النقدية الإجمالي"},
	CodeInvalidPaymentMethod: {"unsupported payment method", "طريقة دفع غير مدعومة"},
	CodeRaceCondition:        {"order was changed by another request, try again", "تم تغيير الطلب من طلب آخر، حاول مرة أخرى"},
	CodeOrderNotRefundable:   {"order is not refundable in its current status", "الطلب غير قابل للاسترجاع في حالته الحالية"},
	CodeInvalidRefundType:    {"refund type must be full or partial", "نوع الاسترجاع يجب أن يكون كلي أو جزئي"},
	CodeRefundExceedsAvail:   {"refund exceeds refundable amount", "المبلغ المسترجع يتجاوز المتاح"},
	CodeCountImmutable:       {"stock count is already finalized", "الجرد مُعتمد مسبقاً ولا يمكن تعديله"},
	CodeConflict:             {"conflicting record already exists", "يوجد سجل متعارض مسبقاً"},
	CodeInternal:             {"internal error", "خطأ داخلي"},
}

// Err builds a CodedError for a known code, overriding the English
// message when detail is given.
func Err(code string, detail ...string) *CodedError {
	msg, ok := messages[code]
	if !ok {
		msg = messages[CodeInternal]
	}
	e := &CodedError{Code: code, Message: msg[0], MessageAr: msg[1]}
	if len(detail) > 0 && detail[0] != "" {
		e.Message = detail[0]
	}
	return e
}

// AsCoded unwraps err to a CodedError if one is in its chain.
func AsCoded(err error) (*CodedError, bool) {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

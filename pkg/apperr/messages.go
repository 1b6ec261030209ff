package apperr

type localized struct {
	en string
	ar string
}

var messages = map[Code]localized{
	CodeInvalidFeature: {
		en: "unknown feature",
		ar: "الميزة غير معروفة",
	},
	CodeInvalidAmount: {
		en: "amount must be a positive number of credits",
		ar: "يجب أن تكون الكمية عدداً موجباً من الأرصدة",
	},
	CodeInvalidPlan: {
		en: "unknown subscription plan",
		ar: "خطة الاشتراك غير معروفة",
	},
	CodeInvalidCycle: {
		en: "unknown billing cycle",
		ar: "دورة الفوترة غير معروفة",
	},
	CodeOrgNotFound: {
		en: "organization not found",
		ar: "المؤسسة غير موجودة",
	},
	CodeNoCreditsRecord: {
		en: "no credits record for organization; activate a subscription first",
		ar: "لا يوجد سجل أرصدة للمؤسسة، يرجى تفعيل الاشتراك أولاً",
	},
	CodeConsumptionNotFound: {
		en: "consumption record not found",
		ar: "سجل الاستهلاك غير موجود",
	},
	CodePaymentNotFound: {
		en: "payment not found",
		ar: "الدفعة غير موجودة",
	},
	CodeInsufficientCredits: {
		en: "insufficient credits for this feature",
		ar: "الرصيد غير كافٍ لاستخدام هذه الميزة",
	},
	CodeSubscriptionInactive: {
		en: "subscription is not active",
		ar: "الاشتراك غير نشط",
	},
	CodeSubscriptionGracePeriod: {
		en: "subscription expired; read-only access during grace period",
		ar: "انتهى الاشتراك، الوصول للقراءة فقط خلال فترة السماح",
	},
	CodeSubscriptionExpired: {
		en: "subscription window has lapsed; activate with a new payment",
		ar: "انتهت فترة الاشتراك، يرجى التفعيل بدفعة جديدة",
	},
	CodePaymentNotConfirmed: {
		en: "payment is not confirmed",
		ar: "الدفعة غير مؤكدة",
	},
	CodeInvalidStatusTransition: {
		en: "invalid status transition",
		ar: "انتقال غير صالح للحالة",
	},
	CodeConsumptionAlreadyFinalized: {
		en: "consumption record already finalized",
		ar: "تم إنهاء سجل الاستهلاك مسبقاً",
	},
	CodeForbidden: {
		en: "platform administrator role required",
		ar: "يتطلب صلاحية مدير المنصة",
	},
	CodeConsumptionNotOwned: {
		en: "consumption record belongs to another user",
		ar: "سجل الاستهلاك يخص مستخدماً آخر",
	},
}

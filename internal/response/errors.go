package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrConflict        ErrCode = "CONFLICT"
	ErrActionForbidden ErrCode = "ACTION_FORBIDDEN"

	// ─── Exam lifecycle ────────────────────────────────────────────────
	ErrInvalidEntryToken ErrCode = "INVALID_ENTRY_TOKEN"
	ErrExamNotActive     ErrCode = "EXAM_NOT_ACTIVE"
	ErrExamNotStarted    ErrCode = "EXAM_NOT_STARTED"
	ErrExamEnded         ErrCode = "EXAM_ENDED"
	ErrExamNotDraft      ErrCode = "EXAM_NOT_DRAFT"
	ErrNoQuestions       ErrCode = "NO_QUESTIONS"
	ErrStudentInactive   ErrCode = "STUDENT_INACTIVE"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrAlreadyCompleted     ErrCode = "EXAM_ALREADY_COMPLETED"
	ErrTimeExpired          ErrCode = "TIME_EXPIRED"
	ErrSessionClosed        ErrCode = "SESSION_CLOSED"
	ErrQuestionNotInSession ErrCode = "QUESTION_NOT_IN_SESSION"
	ErrInvalidOption        ErrCode = "INVALID_OPTION"
	ErrInvalidIndex         ErrCode = "INVALID_QUESTION_INDEX"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email/NISN atau kata sandi salah."
	case ErrSessionActive:
		return "Anda sudah login di perangkat lain."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."
	case ErrActionForbidden:
		return "Tindakan ini tidak diperbolehkan."

	// ─── Exam lifecycle ────────────────────────────────────────────────
	case ErrInvalidEntryToken:
		return "Token ujian tidak valid."
	case ErrExamNotActive:
		return "Ujian ini saat ini tidak tersedia."
	case ErrExamNotStarted:
		return "Ujian belum dimulai."
	case ErrExamEnded:
		return "Waktu ujian sudah berakhir."
	case ErrExamNotDraft:
		return "Ujian ini tidak dalam status draft."
	case ErrNoQuestions:
		return "Jumlah soal tidak mencukupi untuk ujian ini."
	case ErrStudentInactive:
		return "Akun siswa tidak aktif. Silakan hubungi pengawas."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrAlreadyCompleted:
		return "Anda sudah menyelesaikan ujian ini."
	case ErrTimeExpired:
		return "Waktu ujian Anda sudah habis."
	case ErrSessionClosed:
		return "Sesi ujian sudah ditutup."
	case ErrQuestionNotInSession:
		return "Soal tidak ditemukan dalam sesi ujian ini."
	case ErrInvalidOption:
		return "Pilihan jawaban tidak valid."
	case ErrInvalidIndex:
		return "Nomor soal di luar jangkauan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan pada server."
	}
	return "Terjadi kesalahan yang tidak diketahui."
}

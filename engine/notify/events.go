package notify

import (
	"fmt"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
)

// Matching milestones, in the order a run emits them.

func MatchStarted(user string) Event {
	return Event{
		Type:    TypeInfo,
		User:    user,
		Title:   "🔎 Proses Pencocokan Dimulai",
		Message: "Kami sedang menganalisis CV Anda dan mencari lowongan pekerjaan yang paling sesuai...",
	}
}

func ProfileAnalyzed(user string, c domain.Category) Event {
	return Event{
		Type:    TypeInfo,
		User:    user,
		Title:   "🧠 CV Telah Dianalisis",
		Message: fmt.Sprintf("Profil Anda paling cocok untuk pekerjaan di bidang '%s'. Sedang mengambil daftar lowongan yang sesuai...", c),
	}
}

func FetchingPostings(user string, c domain.Category) Event {
	return Event{
		Type:    TypeInfo,
		User:    user,
		Title:   "📂 Mengambil Data Lowongan",
		Message: fmt.Sprintf("Ditemukan lowongan di bidang '%s'. Memulai proses pencocokan...", c),
	}
}

func MatchCompleted(user string, n int) Event {
	return Event{
		Type:    TypeSuccess,
		User:    user,
		Title:   "🎉 Pencocokan Selesai",
		Message: fmt.Sprintf("Kami menemukan %d pekerjaan yang cocok dengan profil Anda. Lihat rekomendasinya sekarang!", n),
	}
}

func MatchFailed(user string) Event {
	return Event{
		Type:    TypeError,
		User:    user,
		Title:   "🔥 Proses Pencocokan Gagal",
		Message: "Maaf, terjadi kesalahan saat menyimpan hasil rekomendasi Anda. Silakan coba beberapa saat lagi.",
	}
}

// CategoryUnavailable is sent when the profile category has no collection.
func CategoryUnavailable(user string, c domain.Category) Event {
	return Event{
		Type:    TypeError,
		User:    user,
		Title:   "❌ Kategori Tidak Dikenali",
		Message: fmt.Sprintf("Kami belum dapat menentukan bidang pekerjaan untuk profil Anda ('%s'). Silakan perbarui CV Anda dan coba lagi.", c),
	}
}

// CrawlCategoryFailed is an operator event for a category that could not be
// crawled.
func CrawlCategoryFailed(c domain.Category, err error) Event {
	return Event{
		Type:    TypeError,
		Title:   "Crawl kategori gagal",
		Message: fmt.Sprintf("Kategori '%s' tidak dapat diproses: %v", c, err),
	}
}

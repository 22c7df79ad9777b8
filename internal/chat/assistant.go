package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pazarglobal/assistant/internal/llm"
	"github.com/pazarglobal/assistant/internal/session"
	"github.com/pazarglobal/assistant/internal/store"
	"github.com/pazarglobal/assistant/internal/telemetry"
)

// previewLimit caps how many listings a chat response shows inline.
const previewLimit = 5

const smallTalkSystemPrompt = `Sen PazarGlobal pazaryerinin yardımsever asistanısın.
Kullanıcılara ilan oluşturma, yayınlama ve arama konusunda yardım edersin.
Kısa, samimi ve Türkçe yanıt ver. Platform dışı konulara girme.`

// Assistant ties the router, composer, workflow and searcher together behind
// a single transport-agnostic entrypoint. Messages of the same session are
// serialized; different sessions proceed concurrently.
type Assistant struct {
	router   *Router
	composer *Composer
	workflow *Workflow
	searcher *Searcher
	sessions SessionStore
	drafts   DraftStore
	locker   *session.Locker
	llm      llm.Provider
	logger   *log.Logger
	tele     *telemetry.Telemetry
	history  int
}

func NewAssistant(router *Router, composer *Composer, workflow *Workflow, searcher *Searcher,
	sessions SessionStore, drafts DraftStore, locker *session.Locker,
	provider llm.Provider, logger *log.Logger, tele *telemetry.Telemetry, historyLimit int) *Assistant {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Assistant{
		router:   router,
		composer: composer,
		workflow: workflow,
		searcher: searcher,
		sessions: sessions,
		drafts:   drafts,
		locker:   locker,
		llm:      provider,
		logger:   logger,
		tele:     tele,
		history:  historyLimit,
	}
}

// HandleMessage processes one user turn end to end: load session, classify,
// dispatch, persist, respond. It never returns a Go error to the transport;
// every failure maps to a user-facing Outbound.
func (a *Assistant) HandleMessage(ctx context.Context, in Inbound) Outbound {
	start := time.Now()

	if strings.TrimSpace(in.Message) == "" {
		return Outbound{Success: false, Intent: IntentUnknown, Message: "Mesajınız boş görünüyor. Size nasıl yardımcı olabilirim?"}
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}

	a.locker.Lock(in.SessionID)
	defer a.locker.Unlock(in.SessionID)

	sess, err := a.sessions.Get(ctx, in.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		userID := in.UserID
		if userID == "" {
			userID = uuid.NewString()
		}
		sess, err = a.sessions.Create(ctx, in.SessionID, userID)
	}
	if err != nil {
		a.logger.Printf("session load failed for %s: %v", in.SessionID, err)
		return Outbound{Success: false, Intent: IntentUnknown, Message: "Geçici bir sorun oluştu, lütfen tekrar deneyin."}
	}

	if err := a.sessions.AppendMessage(ctx, sess.ID, session.Message{Role: "user", Content: in.Message}); err != nil {
		a.logger.Printf("history append failed for %s: %v", sess.ID, err)
	}
	history, err := a.sessions.Messages(ctx, sess.ID, a.history)
	if err != nil {
		a.logger.Printf("history load failed for %s: %v", sess.ID, err)
		history = nil
	}

	state := SessionState{
		HasActiveDraft:      sess.ActiveDraftID != "",
		PendingConfirmation: sess.Pending != nil,
	}
	intent := a.router.Classify(ctx, in.Message, history, state)
	out := a.dispatch(ctx, &sess, in, history, intent)
	out.Intent = intent

	if err := a.sessions.Save(ctx, sess); err != nil {
		a.logger.Printf("session save failed for %s: %v", sess.ID, err)
	}
	if err := a.sessions.AppendMessage(ctx, sess.ID, session.Message{Role: "assistant", Content: out.Message}); err != nil {
		a.logger.Printf("history append failed for %s: %v", sess.ID, err)
	}
	if a.tele != nil {
		a.tele.ObserveMessage(string(intent), start)
	}
	return out
}

func (a *Assistant) dispatch(ctx context.Context, sess *session.Session, in Inbound, history []session.Message, intent Intent) Outbound {
	switch intent {
	case IntentCreateListing, IntentEditListing:
		return a.handleCompose(ctx, sess, in, history, intent)
	case IntentPublish:
		return a.handlePublishRequest(ctx, sess)
	case IntentDelete:
		return a.handleDeleteRequest(ctx, sess)
	case IntentConfirm:
		return a.handleConfirm(ctx, sess)
	case IntentDeny:
		return a.handleDeny(ctx, sess)
	case IntentSearchListings:
		return a.handleSearch(ctx, in.Message)
	default:
		return a.handleSmallTalk(ctx, in.Message, history)
	}
}

func (a *Assistant) handleCompose(ctx context.Context, sess *session.Session, in Inbound, history []session.Message, intent Intent) Outbound {
	var draft store.Draft
	var err error
	if sess.ActiveDraftID == "" {
		draft, err = a.drafts.CreateDraft(ctx, sess.UserID, sess.ID)
		if err != nil {
			a.logger.Printf("draft create failed for session %s: %v", sess.ID, err)
			return Outbound{Success: false, Message: "İlan taslağı oluşturulamadı, lütfen tekrar deneyin."}
		}
		sess.ActiveDraftID = draft.ID
	} else {
		draft, err = a.drafts.GetDraft(ctx, sess.ActiveDraftID)
		if err != nil {
			a.logger.Printf("draft load failed for %s: %v", sess.ActiveDraftID, err)
			sess.ActiveDraftID = ""
			return Outbound{Success: false, Message: "Aktif taslağınıza ulaşılamadı. Yeni bir ilan oluşturmak için ürünü tarif edin."}
		}
		if draft.Status != store.DraftStatusInProgress {
			sess.ActiveDraftID = ""
			return Outbound{Success: false, Message: "Aktif taslağınız artık düzenlenemiyor. Yeni bir ilan oluşturmak için ürünü tarif edin."}
		}
	}

	merged, err := a.composer.Compose(ctx, draft, in.Message, history, in.MediaRef)
	switch {
	case errors.Is(err, ErrDraftConflict):
		return Outbound{Success: false, Message: "Taslağınız aynı anda başka bir yerden güncellendi. Lütfen mesajınızı tekrar gönderin.",
			Data: &ResponseData{Type: "draft", DraftID: draft.ID}}
	case errors.Is(err, ErrExtractionUnavailable):
		return Outbound{Success: false, Message: "Şu anda ilan bilgilerinizi işleyemiyorum. Lütfen biraz sonra tekrar deneyin.",
			Data: &ResponseData{Type: "draft", DraftID: draft.ID}}
	case err != nil:
		a.logger.Printf("compose failed for draft %s: %v", draft.ID, err)
		return Outbound{Success: false, Message: "Taslağınız güncellenirken bir sorun oluştu, lütfen tekrar deneyin.",
			Data: &ResponseData{Type: "draft", DraftID: draft.ID}}
	}

	msg := draftSummary(merged, intent == IntentCreateListing)
	return Outbound{Success: true, Message: msg, Data: &ResponseData{Type: "draft", DraftID: merged.ID, Draft: &merged}}
}

func (a *Assistant) handlePublishRequest(ctx context.Context, sess *session.Session) Outbound {
	draft, err := a.workflow.RequestPublish(ctx, sess)
	switch {
	case errors.Is(err, ErrNoActiveDraft):
		return Outbound{Success: false, Message: "Yayınlanacak aktif bir ilan taslağınız yok. Önce bir ilan oluşturun."}
	case errors.Is(err, ErrInsufficientCredit):
		return Outbound{Success: false, Message: fmt.Sprintf("Yayınlamak için yeterli krediniz yok (gerekli: %d kredi). Taslağınız duruyor; kredi yükleyip tekrar deneyebilirsiniz.", a.workflow.publishCost)}
	case err != nil:
		a.logger.Printf("publish request failed for session %s: %v", sess.ID, err)
		return Outbound{Success: false, Message: "Yayınlama isteği işlenemedi, lütfen tekrar deneyin."}
	}
	return Outbound{Success: true,
		Message: fmt.Sprintf("\"%s\" ilanını %d kredi karşılığında yayınlamak üzeresiniz. Onaylıyor musunuz? (evet/hayır)", draft.Title, a.workflow.publishCost),
		Data:    &ResponseData{Type: "confirm_publish", DraftID: draft.ID, Draft: &draft}}
}

func (a *Assistant) handleDeleteRequest(ctx context.Context, sess *session.Session) Outbound {
	draft, err := a.workflow.RequestDelete(ctx, sess)
	switch {
	case errors.Is(err, ErrNoActiveDraft):
		return Outbound{Success: false, Message: "Silinecek aktif bir ilan taslağınız yok."}
	case err != nil:
		a.logger.Printf("delete request failed for session %s: %v", sess.ID, err)
		return Outbound{Success: false, Message: "Silme isteği işlenemedi, lütfen tekrar deneyin."}
	}
	return Outbound{Success: true,
		Message: fmt.Sprintf("\"%s\" taslağını silmek üzeresiniz. Onaylıyor musunuz? (evet/hayır)", draftLabel(draft)),
		Data:    &ResponseData{Type: "confirm_delete", DraftID: draft.ID}}
}

func (a *Assistant) handleConfirm(ctx context.Context, sess *session.Session) Outbound {
	res, err := a.workflow.Confirm(ctx, sess)
	var commitErr *PublishCommitError
	switch {
	case errors.Is(err, ErrNothingPending):
		return Outbound{Success: false, Message: "Onay bekleyen bir işlem yok."}
	case errors.Is(err, ErrConfirmationExpired):
		return Outbound{Success: false, Message: "Onay süresi doldu, işlem yapılmadı. İsterseniz tekrar deneyebilirsiniz."}
	case errors.Is(err, ErrInsufficientCredit):
		return Outbound{Success: false, Message: "Krediniz yayınlama için yeterli değil. Taslağınız duruyor; kredi yükleyip tekrar deneyebilirsiniz."}
	case errors.As(err, &commitErr):
		a.logger.Printf("publish commit failed: %v", commitErr)
		if commitErr.ReversalErr != nil {
			return Outbound{Success: false, Message: "Yayınlama sırasında bir sorun oluştu. Kredi iadeniz işlemde; destek ekibimiz durumu inceliyor."}
		}
		return Outbound{Success: false, Message: "Yayınlama sırasında bir sorun oluştu, krediniz iade edildi. Lütfen tekrar deneyin."}
	case err != nil:
		a.logger.Printf("confirm failed for session %s: %v", sess.ID, err)
		return Outbound{Success: false, Message: "İşlem tamamlanamadı, lütfen tekrar deneyin."}
	}

	if res.Kind == session.PendingPublish {
		return Outbound{Success: true,
			Message: fmt.Sprintf("İlanınız yayınlandı: \"%s\" - %d TL. Hayırlı satışlar!", res.Listing.Title, res.Listing.Price),
			Data:    &ResponseData{Type: "published", DraftID: res.Draft.ID}}
	}
	return Outbound{Success: true, Message: "Taslağınız silindi. Yeni bir ilan oluşturmak isterseniz ürünü tarif etmeniz yeterli.",
		Data: &ResponseData{Type: "deleted", DraftID: res.Draft.ID}}
}

func (a *Assistant) handleDeny(ctx context.Context, sess *session.Session) Outbound {
	kind, err := a.workflow.Deny(ctx, sess)
	if errors.Is(err, ErrNothingPending) {
		return Outbound{Success: false, Message: "İptal edilecek bekleyen bir işlem yok."}
	}
	if kind == session.PendingPublish {
		return Outbound{Success: true, Message: "Yayınlama iptal edildi. Taslağınız üzerinde çalışmaya devam edebilirsiniz."}
	}
	return Outbound{Success: true, Message: "Silme iptal edildi. Taslağınız duruyor."}
}

func (a *Assistant) handleSearch(ctx context.Context, message string) Outbound {
	q := ParseQuery(message)
	res, err := a.searcher.Search(ctx, q)
	if err != nil {
		a.logger.Printf("search failed: %v", err)
		return Outbound{Success: false, Message: "Arama şu anda yapılamıyor, lütfen tekrar deneyin."}
	}

	count := len(res.Listings)
	if count == 0 {
		return Outbound{Success: true, Message: "Aramanıza uygun ilan bulunamadı. Farklı anahtar kelimelerle deneyebilirsiniz.",
			Data: &ResponseData{Type: "search", Count: 0, Partial: res.Partial}}
	}

	preview := res.Listings
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d ilan bulundu.", count)
	if res.Partial {
		b.WriteString(" (Bazı sonuç kaynakları geç yanıt verdi, liste eksik olabilir.)")
	}
	for i, l := range preview {
		fmt.Fprintf(&b, "\n%d. %s - %d TL", i+1, l.Title, l.Price)
	}
	return Outbound{Success: true, Message: b.String(),
		Data: &ResponseData{Type: "search", Listings: preview, Count: count, Partial: res.Partial}}
}

func (a *Assistant) handleSmallTalk(ctx context.Context, message string, history []session.Message) Outbound {
	prompt := buildClassifyPrompt(message, history, SessionState{})
	reply, err := a.llm.Generate(ctx, smallTalkSystemPrompt, prompt)
	if err != nil || strings.TrimSpace(reply) == "" {
		return Outbound{Success: true,
			Message: "Merhaba! Size ilan oluşturma, yayınlama veya ilan arama konusunda yardımcı olabilirim. Ne yapmak istersiniz?"}
	}
	return Outbound{Success: true, Message: strings.TrimSpace(reply)}
}

// draftSummary renders the draft state and prompts for what is still missing.
func draftSummary(d store.Draft, created bool) string {
	var b strings.Builder
	if created {
		b.WriteString("İlan taslağınız hazırlanıyor.\n")
	} else {
		b.WriteString("Taslağınız güncellendi.\n")
	}
	if d.Title != "" {
		fmt.Fprintf(&b, "Başlık: %s\n", d.Title)
	}
	if d.Price > 0 {
		fmt.Fprintf(&b, "Fiyat: %d TL\n", d.Price)
	}
	if d.Category != "" {
		fmt.Fprintf(&b, "Kategori: %s\n", d.Category)
	}
	if d.Description != "" {
		fmt.Fprintf(&b, "Açıklama: %s\n", d.Description)
	}
	if n := len(d.Images); n > 0 {
		fmt.Fprintf(&b, "Görsel: %d adet\n", n)
	}

	var missing []string
	if d.Title == "" {
		missing = append(missing, "başlık")
	}
	if d.Price <= 0 {
		missing = append(missing, "fiyat")
	}
	if len(d.Images) == 0 {
		missing = append(missing, "görsel")
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "Eksik bilgiler: %s.", strings.Join(missing, ", "))
	} else {
		b.WriteString("İlanınız yayına hazır görünüyor. \"Yayınla\" yazarak yayınlayabilirsiniz.")
	}
	return b.String()
}

func draftLabel(d store.Draft) string {
	if d.Title != "" {
		return d.Title
	}
	return "adsız taslak"
}

package flow

import (
	"fmt"
	"strings"

	"github.com/FarmLedger/EnrollPipe/internal/models"
)

// maskedPassword replaces the stored password in any user-facing summary.
const maskedPassword = "••••••"

// replyCatalog holds every canned message for one language. Reply wording is
// static so behavior stays deterministic and reviewable; the LLM only
// extracts field values, it never writes replies.
type replyCatalog struct {
	welcome         string
	askField        map[string]string
	nudgeField      map[string]string
	fieldNames      map[string]string
	summaryHeader   string
	confirmPrompt   string
	confirmUnclear  string
	denied          string
	completed       string
	alreadyComplete string
	provisionRetry  string
	provisionFailed string
	storageRetry    string
	stalled         string
}

var catalogs = map[string]replyCatalog{
	"en": {
		welcome: "Welcome to FarmLedger! I'll help you register over chat. Let's start: what is your first name?",
		askField: map[string]string{
			FieldFirstName: "What is your first name?",
			FieldLastName:  "Thanks! And your last name?",
			FieldFarmName:  "What is the name of your farm?",
			FieldPassword:  "Almost done. Please choose a password for your account.",
		},
		nudgeField: map[string]string{
			FieldFirstName: "Sorry, I didn't catch that. Could you tell me your first name?",
			FieldLastName:  "Sorry, I didn't catch that. Could you tell me your last name?",
			FieldFarmName:  "Sorry, I didn't catch that. What should I call your farm?",
			FieldPassword:  "Sorry, I didn't catch that. Please send a password for your account.",
		},
		fieldNames: map[string]string{
			FieldFirstName: "First name", FieldLastName: "Last name", FieldFarmName: "Farm name",
			FieldPassword: "Password", FieldEmail: "Email", FieldLocation: "Location",
		},
		summaryHeader:   "Here is what I have:",
		confirmPrompt:   "Is everything correct? Reply yes to create your account, or no to make a change.",
		confirmUnclear:  "Please reply yes to confirm or no to make a change.",
		denied:          "No problem. Send me the corrected value, for example \"my farm is called Sunrise Acres\".",
		completed:       "Your account is ready! You can now sign in to FarmLedger. 🌱",
		alreadyComplete: "You're already registered. Sign in to FarmLedger to continue.",
		provisionRetry:  "Something went wrong creating your account. Please reply yes to try again.",
		provisionFailed: "We couldn't create your account with these details. Please contact support.",
		storageRetry:    "Sorry, something went wrong on our side. Please send that again in a moment.",
		stalled:         "I'm having trouble understanding. If you get stuck, contact FarmLedger support and a person will finish your registration with you.",
	},
	"hr": {
		welcome: "Dobrodošli u FarmLedger! Pomoći ću vam s registracijom putem poruka. Za početak: kako se zovete (ime)?",
		askField: map[string]string{
			FieldFirstName: "Kako se zovete (ime)?",
			FieldLastName:  "Hvala! A vaše prezime?",
			FieldFarmName:  "Kako se zove vaše gospodarstvo?",
			FieldPassword:  "Još malo. Odaberite lozinku za svoj račun.",
		},
		nudgeField: map[string]string{
			FieldFirstName: "Oprostite, nisam razumio. Možete li mi reći svoje ime?",
			FieldLastName:  "Oprostite, nisam razumio. Možete li mi reći svoje prezime?",
			FieldFarmName:  "Oprostite, nisam razumio. Kako se zove vaše gospodarstvo?",
			FieldPassword:  "Oprostite, nisam razumio. Pošaljite lozinku za svoj račun.",
		},
		fieldNames: map[string]string{
			FieldFirstName: "Ime", FieldLastName: "Prezime", FieldFarmName: "Gospodarstvo",
			FieldPassword: "Lozinka", FieldEmail: "E-mail", FieldLocation: "Lokacija",
		},
		summaryHeader:   "Evo što imam:",
		confirmPrompt:   "Je li sve točno? Odgovorite da za izradu računa ili ne za izmjenu.",
		confirmUnclear:  "Molim odgovorite da za potvrdu ili ne za izmjenu.",
		denied:          "Nema problema. Pošaljite mi ispravljenu vrijednost, npr. \"moje gospodarstvo se zove Zora\".",
		completed:       "Vaš račun je spreman! Sada se možete prijaviti u FarmLedger. 🌱",
		alreadyComplete: "Već ste registrirani. Prijavite se u FarmLedger za nastavak.",
		provisionRetry:  "Nešto je pošlo po zlu pri izradi računa. Odgovorite da za novi pokušaj.",
		provisionFailed: "S ovim podacima nismo mogli izraditi račun. Obratite se podršci.",
		storageRetry:    "Oprostite, nešto je pošlo po zlu na našoj strani. Pošaljite to ponovno za koji trenutak.",
		stalled:         "Teško mi je razumjeti. Ako zapnete, obratite se FarmLedger podršci i netko će s vama dovršiti registraciju.",
	},
	"es": {
		welcome: "¡Bienvenido a FarmLedger! Te ayudaré a registrarte por chat. Para empezar: ¿cuál es tu nombre?",
		askField: map[string]string{
			FieldFirstName: "¿Cuál es tu nombre?",
			FieldLastName:  "¡Gracias! ¿Y tu apellido?",
			FieldFarmName:  "¿Cómo se llama tu granja?",
			FieldPassword:  "Casi terminamos. Elige una contraseña para tu cuenta.",
		},
		nudgeField: map[string]string{
			FieldFirstName: "Perdona, no lo entendí. ¿Puedes decirme tu nombre?",
			FieldLastName:  "Perdona, no lo entendí. ¿Puedes decirme tu apellido?",
			FieldFarmName:  "Perdona, no lo entendí. ¿Cómo se llama tu granja?",
			FieldPassword:  "Perdona, no lo entendí. Envía una contraseña para tu cuenta.",
		},
		fieldNames: map[string]string{
			FieldFirstName: "Nombre", FieldLastName: "Apellido", FieldFarmName: "Granja",
			FieldPassword: "Contraseña", FieldEmail: "Correo", FieldLocation: "Ubicación",
		},
		summaryHeader:   "Esto es lo que tengo:",
		confirmPrompt:   "¿Está todo correcto? Responde sí para crear tu cuenta o no para cambiar algo.",
		confirmUnclear:  "Responde sí para confirmar o no para cambiar algo.",
		denied:          "Sin problema. Envíame el valor corregido, por ejemplo \"mi granja se llama El Amanecer\".",
		completed:       "¡Tu cuenta está lista! Ya puedes iniciar sesión en FarmLedger. 🌱",
		alreadyComplete: "Ya estás registrado. Inicia sesión en FarmLedger para continuar.",
		provisionRetry:  "Algo salió mal al crear tu cuenta. Responde sí para intentarlo de nuevo.",
		provisionFailed: "No pudimos crear tu cuenta con estos datos. Contacta con soporte.",
		storageRetry:    "Lo sentimos, algo salió mal de nuestro lado. Envíalo de nuevo en un momento.",
		stalled:         "Me cuesta entenderte. Si te quedas atascado, contacta con el soporte de FarmLedger y una persona terminará el registro contigo.",
	},
	"de": {
		welcome: "Willkommen bei FarmLedger! Ich helfe dir bei der Registrierung per Chat. Zuerst: Wie lautet dein Vorname?",
		askField: map[string]string{
			FieldFirstName: "Wie lautet dein Vorname?",
			FieldLastName:  "Danke! Und dein Nachname?",
			FieldFarmName:  "Wie heißt dein Hof?",
			FieldPassword:  "Fast geschafft. Bitte wähle ein Passwort für dein Konto.",
		},
		nudgeField: map[string]string{
			FieldFirstName: "Entschuldigung, das habe ich nicht verstanden. Wie lautet dein Vorname?",
			FieldLastName:  "Entschuldigung, das habe ich nicht verstanden. Wie lautet dein Nachname?",
			FieldFarmName:  "Entschuldigung, das habe ich nicht verstanden. Wie heißt dein Hof?",
			FieldPassword:  "Entschuldigung, das habe ich nicht verstanden. Bitte sende ein Passwort.",
		},
		fieldNames: map[string]string{
			FieldFirstName: "Vorname", FieldLastName: "Nachname", FieldFarmName: "Hof",
			FieldPassword: "Passwort", FieldEmail: "E-Mail", FieldLocation: "Standort",
		},
		summaryHeader:   "Das habe ich notiert:",
		confirmPrompt:   "Ist alles richtig? Antworte mit ja, um dein Konto zu erstellen, oder nein für eine Änderung.",
		confirmUnclear:  "Bitte antworte mit ja zum Bestätigen oder nein für eine Änderung.",
		denied:          "Kein Problem. Schick mir den korrigierten Wert, z. B. \"mein Hof heißt Morgenrot\".",
		completed:       "Dein Konto ist fertig! Du kannst dich jetzt bei FarmLedger anmelden. 🌱",
		alreadyComplete: "Du bist bereits registriert. Melde dich bei FarmLedger an.",
		provisionRetry:  "Beim Erstellen deines Kontos ging etwas schief. Antworte mit ja für einen neuen Versuch.",
		provisionFailed: "Mit diesen Angaben konnten wir kein Konto erstellen. Bitte wende dich an den Support.",
		storageRetry:    "Entschuldige, bei uns ist etwas schiefgelaufen. Bitte schick das gleich noch einmal.",
		stalled:         "Ich habe Schwierigkeiten, dich zu verstehen. Wende dich an den FarmLedger-Support, dann schließt jemand die Registrierung mit dir ab.",
	},
	"fr": {
		welcome: "Bienvenue chez FarmLedger ! Je vais vous aider à vous inscrire par chat. Pour commencer : quel est votre prénom ?",
		askField: map[string]string{
			FieldFirstName: "Quel est votre prénom ?",
			FieldLastName:  "Merci ! Et votre nom de famille ?",
			FieldFarmName:  "Comment s'appelle votre ferme ?",
			FieldPassword:  "Presque fini. Choisissez un mot de passe pour votre compte.",
		},
		nudgeField: map[string]string{
			FieldFirstName: "Désolé, je n'ai pas compris. Quel est votre prénom ?",
			FieldLastName:  "Désolé, je n'ai pas compris. Quel est votre nom de famille ?",
			FieldFarmName:  "Désolé, je n'ai pas compris. Comment s'appelle votre ferme ?",
			FieldPassword:  "Désolé, je n'ai pas compris. Envoyez un mot de passe pour votre compte.",
		},
		fieldNames: map[string]string{
			FieldFirstName: "Prénom", FieldLastName: "Nom", FieldFarmName: "Ferme",
			FieldPassword: "Mot de passe", FieldEmail: "E-mail", FieldLocation: "Localisation",
		},
		summaryHeader:   "Voici ce que j'ai noté :",
		confirmPrompt:   "Tout est correct ? Répondez oui pour créer votre compte, ou non pour modifier.",
		confirmUnclear:  "Répondez oui pour confirmer ou non pour modifier.",
		denied:          "Pas de souci. Envoyez-moi la valeur corrigée, par exemple \"ma ferme s'appelle Aurore\".",
		completed:       "Votre compte est prêt ! Vous pouvez maintenant vous connecter à FarmLedger. 🌱",
		alreadyComplete: "Vous êtes déjà inscrit. Connectez-vous à FarmLedger pour continuer.",
		provisionRetry:  "Une erreur est survenue lors de la création du compte. Répondez oui pour réessayer.",
		provisionFailed: "Impossible de créer votre compte avec ces informations. Contactez le support.",
		storageRetry:    "Désolé, un problème est survenu de notre côté. Renvoyez votre message dans un instant.",
		stalled:         "J'ai du mal à vous comprendre. Contactez le support FarmLedger et une personne terminera l'inscription avec vous.",
	},
	"pt": {
		welcome: "Bem-vindo ao FarmLedger! Vou ajudar você a se registrar pelo chat. Para começar: qual é o seu nome?",
		askField: map[string]string{
			FieldFirstName: "Qual é o seu nome?",
			FieldLastName:  "Obrigado! E o seu sobrenome?",
			FieldFarmName:  "Qual é o nome da sua fazenda?",
			FieldPassword:  "Quase lá. Escolha uma senha para a sua conta.",
		},
		nudgeField: map[string]string{
			FieldFirstName: "Desculpe, não entendi. Pode me dizer o seu nome?",
			FieldLastName:  "Desculpe, não entendi. Pode me dizer o seu sobrenome?",
			FieldFarmName:  "Desculpe, não entendi. Qual é o nome da sua fazenda?",
			FieldPassword:  "Desculpe, não entendi. Envie uma senha para a sua conta.",
		},
		fieldNames: map[string]string{
			FieldFirstName: "Nome", FieldLastName: "Sobrenome", FieldFarmName: "Fazenda",
			FieldPassword: "Senha", FieldEmail: "E-mail", FieldLocation: "Localização",
		},
		summaryHeader:   "Aqui está o que tenho:",
		confirmPrompt:   "Está tudo certo? Responda sim para criar sua conta ou não para alterar.",
		confirmUnclear:  "Responda sim para confirmar ou não para alterar.",
		denied:          "Sem problema. Envie o valor corrigido, por exemplo \"minha fazenda se chama Alvorada\".",
		completed:       "Sua conta está pronta! Agora você pode entrar no FarmLedger. 🌱",
		alreadyComplete: "Você já está registrado. Entre no FarmLedger para continuar.",
		provisionRetry:  "Algo deu errado ao criar sua conta. Responda sim para tentar novamente.",
		provisionFailed: "Não foi possível criar sua conta com esses dados. Fale com o suporte.",
		storageRetry:    "Desculpe, algo deu errado do nosso lado. Envie novamente em instantes.",
		stalled:         "Estou com dificuldade para entender. Contate o suporte do FarmLedger e uma pessoa concluirá o cadastro com você.",
	},
}

// affirmWords and denyWords drive confirmation parsing. Matching is done on
// whole words of the lowercased message, not the LLM, so a "yes" is always a
// yes regardless of provider availability.
var affirmWords = map[string][]string{
	"en": {"yes", "y", "yes!", "yep", "yeah", "sure", "ok", "okay", "confirm", "correct"},
	"hr": {"da", "da!", "moze", "može", "u redu", "tocno", "točno", "potvrdujem", "potvrđujem"},
	"es": {"si", "sí", "si!", "vale", "claro", "ok", "confirmo", "correcto"},
	"de": {"ja", "ja!", "jawohl", "ok", "okay", "passt", "korrekt", "richtig"},
	"fr": {"oui", "oui!", "ok", "d'accord", "daccord", "confirme", "correct"},
	"pt": {"sim", "sim!", "ok", "claro", "confirmo", "correto", "certo"},
}

var denyWords = map[string][]string{
	"en": {"no", "n", "nope", "wrong", "change", "incorrect"},
	"hr": {"ne", "nije", "krivo", "netocno", "netočno", "promijeni"},
	"es": {"no", "cambiar", "incorrecto", "mal"},
	"de": {"nein", "falsch", "nicht", "andern", "ändern"},
	"fr": {"non", "faux", "changer", "incorrect"},
	"pt": {"nao", "não", "errado", "mudar", "incorreto"},
}

// catalogFor returns the reply catalog for a language, falling back to
// English for unsupported languages.
func catalogFor(language string) replyCatalog {
	if c, ok := catalogs[language]; ok {
		return c
	}
	return catalogs[models.LanguageFallback]
}

// AskFor returns the prompt for a mandatory field in the given language.
func AskFor(language, field string) string {
	c := catalogFor(language)
	if prompt, ok := c.askField[field]; ok {
		return prompt
	}
	return c.askField[FieldFirstName]
}

// NudgeFor returns the re-prompt used when a turn made no progress on the
// field that was last asked for.
func NudgeFor(language, field string) string {
	c := catalogFor(language)
	if prompt, ok := c.nudgeField[field]; ok {
		return prompt
	}
	return c.confirmUnclear
}

// BuildSummary renders the collected fields for confirmation. The password
// is always masked.
func BuildSummary(session *models.Session) string {
	c := catalogFor(session.Locale.Language)
	var b strings.Builder
	b.WriteString(c.summaryHeader)
	for _, f := range registrationFields {
		value, ok := session.Field(f.Name)
		if !ok {
			continue
		}
		if f.Name == FieldPassword {
			value = maskedPassword
		}
		fmt.Fprintf(&b, "\n• %s: %s", c.fieldNames[f.Name], value)
	}
	b.WriteString("\n\n")
	b.WriteString(c.confirmPrompt)
	return b.String()
}

// SanitizeFields returns a copy of the given fields safe for display outside
// the conversation, with the password masked.
func SanitizeFields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == FieldPassword {
			v = maskedPassword
		}
		out[k] = v
	}
	return out
}

// ParseConfirmation classifies a confirmation-stage message as affirmed,
// denied, or unclear. Word lists for the session language are checked first,
// then English as a fallback.
func ParseConfirmation(language, body string) (affirmed, denied bool) {
	normalized := strings.ToLower(strings.TrimSpace(body))
	normalized = strings.Trim(normalized, ".!? ")
	if normalized == "" {
		return false, false
	}
	words := strings.Fields(normalized)

	for _, lang := range confirmationLanguages(language) {
		for _, w := range affirmWords[lang] {
			if normalized == w || (len(words) > 0 && words[0] == w) {
				return true, false
			}
		}
		for _, w := range denyWords[lang] {
			if normalized == w || (len(words) > 0 && words[0] == w) {
				return false, true
			}
		}
	}
	return false, false
}

func confirmationLanguages(language string) []string {
	if language == models.LanguageFallback {
		return []string{models.LanguageFallback}
	}
	if _, ok := affirmWords[language]; ok {
		return []string{language, models.LanguageFallback}
	}
	return []string{models.LanguageFallback}
}

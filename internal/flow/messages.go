package flow

// Messages holds the fixed texts the engine replies with.
type Messages struct {
	Greeting         string
	Help             string
	Rejection        string
	Apology          string
	Thanks           string
	Empty            string
	ClarifyingPrompt string // format string; %s is the user's question
	Alternatives     string // format string; %s is the previous answer
}

// DefaultMessages returns the texts of the Russian-language support bot.
func DefaultMessages() Messages {
	return Messages{
		Greeting:         "Здравствуйте! Я бот технической поддержки. Опишите, пожалуйста, вашу проблему, и я постараюсь помочь.",
		Help:             "Вы можете задать мне любой вопрос, связанный с технической поддержкой, и я постараюсь помочь. Чтобы начать заново, отправьте /restart.",
		Rejection:        "Извините, я отвечаю только на вопросы технической поддержки. Пожалуйста, опишите техническую проблему.",
		Apology:          "Извините, возникла проблема при обработке вашего запроса. Пожалуйста, попробуйте позже.",
		Thanks:           "Спасибо за отзыв!",
		Empty:            "Пожалуйста, опишите вашу проблему текстом.",
		ClarifyingPrompt: "Сформулируй один короткий уточняющий вопрос пользователю технической поддержки, чтобы понять его проблему. Вопрос пользователя: %s",
		Alternatives:     "Предыдущий ответ не помог:\n%s\nПредложи другие варианты решения.",
	}
}

// Control words and feedback buttons recognised in any state.
var (
	restartWords  = []string{"/start", "/restart", "🔄 Restart", "🔄 Перезапуск"}
	helpWords     = []string{"/help"}
	helpfulWords  = []string{"👍", "помогло", "👍 Помогло"}
	unhelpfulWord = []string{"👎", "👎 Не помогло"}

	// FeedbackOptions are attached to every answer.
	FeedbackOptions = []string{"👍", "👎"}
)

package tables

// osOptions is offered wherever the bot needs to know the operating system.
var osOptions = []string{"Windows", "Linux", "Astra"}

// Default returns the built-in tables used when no tables file is configured.
func Default() *Tables {
	return &Tables{
		Keywords: []string{
			"IPMI", "BIOS", "RAID", "вентилятор", "сервер", "контроллер", "ОС", "сеть", "SSH", "драйвер", "API",
			"Windows", "Linux", "Ubuntu", "Debian", "Arch", "CentOS", "Fedora", "виндовс", "винду", "переустановка",
			"восстановление", "диагностика", "логи", "видеокарта", "VGA", "SSD", "HDD", "UEFI", "POST", "разгон",
			"установка", "железо", "процессор", "чипсет", "интерфейс", "настройка", "оперативная память", "режим",
			"порт", "дисковая система", "материнская плата", "хранилище", "охлаждение", "конфигурация",
			"система", "apt", "yum", "snap", "dpkg", "systemctl", "grub", "swap", "root", "boot", "sudo", "bash",
			"Astra", "Astra Linux", "Clonezilla", "Supermicro", "IPDROM", "RAID-контроллер", "гипервизор", "GPT",
			"PXE-загрузка", "KVM", "LiveCD", "флешка", "флешку", "загрузочная флешка", "USB", "образ системы", "ISO",
			"запись образа", "lsa",
		},
		ShortReplies: []string{
			"не помогло", "что дальше?", "какие ещё варианты?", "это не работает", "данные рекомендации не помогли",
		},
		Clarifications: []Clarification{
			{Trigger: "установка", Step: Step{Prompt: "Для какой операционной системы нужна установка?", Options: osOptions}},
			{Trigger: "lsa", Step: Step{Prompt: "LSA используется на сервере или на рабочей станции?", Options: []string{"Сервер", "Рабочая станция"}}},
			{Trigger: "не включается", Step: Step{Prompt: "Есть ли индикаторы? Пищит ли сервер?", Options: []string{"Индикаторы горят", "Сервер пищит", "Никаких признаков"}}},
			{Trigger: "синий экран", Step: Step{Prompt: "На каком этапе появляется синий экран? Есть ли код ошибки?", Options: []string{"При загрузке", "Во время работы"}}},
			{Trigger: "raid", Step: Step{Prompt: "Какой контроллер вы используете?", Options: []string{"LSI", "Intel", "Встроенный"}}},
		},
		FollowUps: map[string]Step{
			"Рабочая станция": {Prompt: "Какая ОС установлена на рабочей станции?", Options: osOptions},
			"Сервер":          {Prompt: "Какая ОС установлена на сервере?", Options: osOptions},
		},
		OSHints:     []string{"Windows", "Astra Linux", "Astra", "Ubuntu", "Debian", "CentOS", "Fedora", "Linux"},
		DeviceHints: []string{"Рабочая станция", "Сервер"},
	}
}

package domain

// LiveState — состояние комнаты прямой трансляции.
type LiveState int

// Значения совпадают с полем live_status внешнего API.
const (
	LiveStateOffline  LiveState = 0
	LiveStateLive     LiveState = 1
	LiveStateCarousel LiveState = 2
)

// LiveRoomStatus — полный снимок состояния комнаты на момент опроса.
// Снимок не хранится в базе: он живёт только в кэше статусов и
// целиком замещается при каждом успешном опросе.
type LiveRoomStatus struct {
	RoomID   string
	ShortID  string
	State    LiveState
	Title    string
	UserID   string
	UserName string
	LiveTime string
	Tags     string
	CoverURL string
}

// StatusChange — вариант перехода между двумя снимками состояния комнаты.
type StatusChange int

const (
	StatusNoChange StatusChange = iota
	StatusStartLiving
	StatusStartLivingWithTitleChange
	StatusStopLiving
	StatusStopLivingWithPlaylist
	StatusTitleChange
)

// String возвращает стабильное имя варианта для журнала и записей контента.
func (c StatusChange) String() string {
	switch c {
	case StatusNoChange:
		return "no_change"
	case StatusStartLiving:
		return "start_living"
	case StatusStartLivingWithTitleChange:
		return "start_living_with_title_change"
	case StatusStopLiving:
		return "stop_living"
	case StatusStopLivingWithPlaylist:
		return "stop_living_with_playlist"
	case StatusTitleChange:
		return "title_change"
	default:
		return "unknown"
	}
}

// StatusUpdate — результат сравнения предыдущего и текущего снимков комнаты.
type StatusUpdate struct {
	Change StatusChange
	Status LiveRoomStatus
}

// IsUpdate сообщает, требует ли переход уведомления подписчиков.
func (u StatusUpdate) IsUpdate() bool {
	return u.Change != StatusNoChange
}

// DiffLiveRoomStatus сравнивает два снимка состояния комнаты и возвращает переход.
// Функция тотальна: любая пара снимков даёт ровно один вариант, включая StatusNoChange.
func DiffLiveRoomStatus(prev, cur LiveRoomStatus) StatusUpdate {
	var change StatusChange
	switch {
	case prev.State != LiveStateLive && cur.State == LiveStateLive:
		if cur.Title != prev.Title {
			change = StatusStartLivingWithTitleChange
		} else {
			change = StatusStartLiving
		}
	case prev.State == LiveStateLive && cur.State == LiveStateOffline:
		change = StatusStopLiving
	case prev.State == LiveStateLive && cur.State == LiveStateCarousel:
		change = StatusStopLivingWithPlaylist
	case prev.State == LiveStateLive && cur.State == LiveStateLive && cur.Title != prev.Title:
		change = StatusTitleChange
	default:
		change = StatusNoChange
	}
	return StatusUpdate{Change: change, Status: cur}
}
